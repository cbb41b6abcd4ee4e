package xmodem

import (
	"bytes"
	"sync"
	"time"

	"github.com/kstaniek/go-xmodem/internal/device"
	"github.com/kstaniek/go-xmodem/internal/logging"
)

// scriptedPeer is a Device whose inbound bytes are queued by the test and
// whose outbound writes are recorded and optionally answered by onSend.
// An empty inbox behaves like an expired timeout without sleeping.
type scriptedPeer struct {
	mu     sync.Mutex
	inbox  []byte
	sent   [][]byte
	onSend func(p *scriptedPeer, chunk []byte)
}

var _ device.Device = (*scriptedPeer)(nil)

func newPeer(initial ...byte) *scriptedPeer {
	return &scriptedPeer{inbox: append([]byte(nil), initial...)}
}

// queue appends inbound bytes; safe to call from onSend.
func (p *scriptedPeer) queue(b ...byte) { p.inbox = append(p.inbox, b...) }

func (p *scriptedPeer) Recv(buf []byte, _ time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(buf, p.inbox)
	p.inbox = p.inbox[n:]
	return n
}

func (p *scriptedPeer) Send(buf []byte, _ time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	chunk := append([]byte(nil), buf...)
	p.sent = append(p.sent, chunk)
	if p.onSend != nil {
		p.onSend(p, chunk)
	}
	return len(buf)
}

func (p *scriptedPeer) Getc(timeout time.Duration) (byte, bool) {
	var b [1]byte
	if p.Recv(b[:], timeout) != 1 {
		return 0, false
	}
	return b[0], true
}

func (p *scriptedPeer) Putc(b byte, timeout time.Duration) bool {
	return p.Send([]byte{b}, timeout) == 1
}

func (p *scriptedPeer) Size() int64 { return device.SizeUnknown }

// frames returns recorded writes that look like data packets.
func (p *scriptedPeer) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, c := range p.sent {
		if len(c) > 1 {
			out = append(out, c)
		}
	}
	return out
}

// controls returns recorded single-byte writes in order.
func (p *scriptedPeer) controls() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []byte
	for _, c := range p.sent {
		if len(c) == 1 {
			out = append(out, c[0])
		}
	}
	return out
}

func testOptions(size PacketSize, mode Mode) Options {
	o := DefaultOptions()
	o.PacketSize = size
	o.Mode = mode
	o.MaxRetries = 5
	o.MaxRetransmissions = 4
	o.Timeout = 50 * time.Millisecond
	o.Logger = logging.Discard()
	return o
}

// buildFrame assembles a valid data packet.
func buildFrame(size PacketSize, mode Mode, seq byte, data []byte) []byte {
	payload := bytes.Repeat([]byte{SUB}, int(size))
	copy(payload, data)
	f := []byte{size.Code(), seq, ^seq}
	f = append(f, payload...)
	return mode.AppendTrailer(f, payload)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/256)
	}
	return b
}

func count(b []byte, v byte) int { return bytes.Count(b, []byte{v}) }
