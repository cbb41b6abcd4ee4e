package xmodem

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/kstaniek/go-xmodem/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveInto(t *testing.T, peer *scriptedPeer, opts Options) (*bytes.Buffer, Result, error) {
	t.Helper()
	var sink bytes.Buffer
	res, err := Receive(context.Background(), peer, device.NewFile(&sink), opts)
	return &sink, res, err
}

func TestReceiveFramesAndEOT(t *testing.T) {
	t.Parallel()
	data := pattern(3 * 128)
	peer := newPeer()
	for i := 0; i < 3; i++ {
		peer.queue(buildFrame(Packet128, ModeCRC, byte(i+1), data[i*128:(i+1)*128])...)
	}
	peer.queue(EOT)

	sink, res, err := receiveInto(t, peer, testOptions(Packet128, ModeAuto))
	require.NoError(t, err)
	assert.Equal(t, data, sink.Bytes())
	assert.Equal(t, 3, res.Packets)
	assert.Equal(t, ModeCRC, res.Mode)
	assert.Equal(t, []byte{CRC, ACK, ACK, ACK, ACK, CAN, CAN, CAN}, peer.controls())
}

func TestReceiveChecksumModeRequestsWithNAK(t *testing.T) {
	t.Parallel()
	peer := newPeer(buildFrame(Packet128, ModeChecksum, 1, []byte("hello"))...)
	peer.queue(EOT)

	sink, res, err := receiveInto(t, peer, testOptions(Packet128, ModeChecksum))
	require.NoError(t, err)
	assert.Equal(t, ModeChecksum, res.Mode)
	require.Equal(t, 128, sink.Len())
	assert.Equal(t, []byte("hello"), sink.Bytes()[:5])
	assert.Equal(t, byte(SUB), sink.Bytes()[127])
	assert.Equal(t, NAK, peer.controls()[0])
}

func TestReceiveCorruptedTrailerNAKsOnce(t *testing.T) {
	t.Parallel()
	good := buildFrame(Packet1K, ModeCRC, 1, pattern(1024))
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0x01
	peer := newPeer(bad...)
	peer.onSend = func(p *scriptedPeer, chunk []byte) {
		if chunk[0] == NAK {
			p.queue(good...)
			p.queue(EOT)
		}
	}

	sink, res, err := receiveInto(t, peer, testOptions(Packet1K, ModeAuto))
	require.NoError(t, err)
	ctl := peer.controls()
	assert.Equal(t, 1, count(ctl, NAK))
	assert.Equal(t, 1, res.Packets)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, pattern(1024), sink.Bytes())
}

func TestReceiveDuplicateIsAckedNotDelivered(t *testing.T) {
	t.Parallel()
	one := buildFrame(Packet128, ModeCRC, 1, []byte("first"))
	peer := newPeer(one...)
	peer.queue(one...)
	peer.queue(buildFrame(Packet128, ModeCRC, 2, []byte("second"))...)
	peer.queue(EOT)

	sink, res, err := receiveInto(t, peer, testOptions(Packet128, ModeAuto))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Packets)
	assert.Equal(t, 256, sink.Len())
	assert.Equal(t, []byte("second"), sink.Bytes()[128:134])
	assert.Equal(t, 4, count(peer.controls(), ACK))
	assert.Zero(t, count(peer.controls(), NAK))
}

func TestReceiveSequenceWrapsModulo256(t *testing.T) {
	t.Parallel()
	const frames = 257
	peer := newPeer()
	for i := 1; i <= frames; i++ {
		peer.queue(buildFrame(Packet128, ModeCRC, byte(i), []byte{byte(i)})...)
	}
	peer.queue(EOT)

	sink, res, err := receiveInto(t, peer, testOptions(Packet128, ModeAuto))
	require.NoError(t, err)
	assert.Equal(t, frames, res.Packets)
	require.Equal(t, frames*128, sink.Len())
	assert.Equal(t, byte(0), sink.Bytes()[255*128])
	assert.Equal(t, byte(1), sink.Bytes()[256*128])
}

func TestReceiveRejectsBadHeaders(t *testing.T) {
	t.Parallel()
	badComplement := buildFrame(Packet128, ModeCRC, 1, nil)
	badComplement[2] = 0x00
	outOfOrder := buildFrame(Packet128, ModeCRC, 3, nil)
	wrongClass := buildFrame(Packet1K, ModeCRC, 1, nil)

	for name, frame := range map[string][]byte{
		"complement": badComplement,
		"sequence":   outOfOrder,
		"class":      wrongClass,
	} {
		t.Run(name, func(t *testing.T) {
			peer := newPeer(frame...)
			queued := false
			peer.onSend = func(p *scriptedPeer, chunk []byte) {
				if chunk[0] == NAK && !queued {
					queued = true
					p.queue(buildFrame(Packet128, ModeCRC, 1, []byte("ok"))...)
					p.queue(EOT)
				}
			}
			sink, res, err := receiveInto(t, peer, testOptions(Packet128, ModeAuto))
			require.NoError(t, err)
			assert.Equal(t, 1, res.Packets)
			assert.Equal(t, []byte("ok"), sink.Bytes()[:2])
			assert.Equal(t, 1, count(peer.controls(), NAK))
		})
	}
}

func TestReceiveNegotiationTimeout(t *testing.T) {
	t.Parallel()
	peer := newPeer()
	sink, _, err := receiveInto(t, peer, testOptions(Packet128, ModeAuto))
	require.ErrorIs(t, err, ErrNegotiation)
	assert.Zero(t, sink.Len())
	assert.Equal(t, []byte{CRC, CAN, CAN, CAN}, peer.controls())
}

func TestReceivePeerCancel(t *testing.T) {
	t.Parallel()
	peer := newPeer(buildFrame(Packet128, ModeCRC, 1, nil)...)
	peer.queue(CAN, CAN)

	_, res, err := receiveInto(t, peer, testOptions(Packet128, ModeAuto))
	require.ErrorIs(t, err, ErrPeerCancelled)
	assert.Equal(t, 1, res.Packets)
	assert.Equal(t, []byte{CRC, ACK, ACK}, peer.controls())
}

func TestReceiveRetransmissionsExhausted(t *testing.T) {
	t.Parallel()
	bad := buildFrame(Packet128, ModeCRC, 1, nil)
	bad[headerSize] ^= 0xFF
	peer := newPeer(bad...)
	peer.onSend = func(p *scriptedPeer, chunk []byte) {
		if chunk[0] == NAK {
			p.queue(bad...)
		}
	}
	opts := testOptions(Packet128, ModeAuto)

	sink, res, err := receiveInto(t, peer, opts)
	require.ErrorIs(t, err, ErrRetransmissionExhausted)
	assert.Zero(t, sink.Len())
	assert.Equal(t, opts.MaxRetransmissions, res.Retries)
	ctl := peer.controls()
	assert.Equal(t, opts.MaxRetransmissions, count(ctl, NAK))
	assert.Equal(t, []byte{CAN, CAN, CAN}, ctl[len(ctl)-3:])
}

type brokenSink struct{}

func (brokenSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestReceiveSinkFailureCancelsWithoutAck(t *testing.T) {
	t.Parallel()
	peer := newPeer(buildFrame(Packet128, ModeCRC, 1, nil)...)

	_, err := Receive(context.Background(), peer, device.NewFile(brokenSink{}), testOptions(Packet128, ModeAuto))
	require.ErrorIs(t, err, ErrSinkWrite)
	assert.Equal(t, []byte{CRC, CAN, CAN, CAN}, peer.controls())
}

func TestReceiveContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	peer := newPeer()
	var sink bytes.Buffer

	_, err := Receive(ctx, peer, device.NewFile(&sink), testOptions(Packet128, ModeAuto))
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, []byte{CRC, CAN, CAN, CAN}, peer.controls())
}
