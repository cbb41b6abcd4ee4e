package xmodem

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crcBitwise is the shift-and-xor definition of CRC-16/XMODEM.
func crcBitwise(p []byte) uint16 {
	var crc uint16
	for _, b := range p {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestCRC16KnownVectors(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0), CRC16(nil))
	assert.Equal(t, crcBitwise([]byte{0xFF}), CRC16([]byte{0xFF}))
}

func TestCRC16MatchesBitwiseDefinition(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		p := make([]byte, rng.Intn(1500))
		rng.Read(p)
		require.Equal(t, crcBitwise(p), CRC16(p), "len %d", len(p))
	}
}

func TestChecksum8Wraps(t *testing.T) {
	t.Parallel()
	assert.Equal(t, byte(0), Checksum8(nil))
	assert.Equal(t, byte(0x06), Checksum8([]byte{0xFF, 0x07}))
	assert.Equal(t, byte(128*0x1A%256), Checksum8(make128(SUB)))
}

func make128(v byte) []byte {
	p := make([]byte, 128)
	for i := range p {
		p[i] = v
	}
	return p
}

func TestTrailerRoundTripAndBitFlips(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))
	for _, mode := range []Mode{ModeCRC, ModeChecksum} {
		for i := 0; i < 50; i++ {
			payload := make([]byte, 128)
			rng.Read(payload)
			trailer := mode.AppendTrailer(nil, payload)
			require.Len(t, trailer, mode.TrailerSize())
			require.True(t, mode.Verify(payload, trailer))

			for bit := 0; bit < 8*len(trailer); bit++ {
				bad := append([]byte(nil), trailer...)
				bad[bit/8] ^= 1 << (bit % 8)
				require.False(t, mode.Verify(payload, bad), "%s: bit %d flip accepted", mode, bit)
			}
		}
	}
}

func TestVerifyRejectsWrongTrailerLength(t *testing.T) {
	t.Parallel()
	assert.False(t, ModeCRC.Verify([]byte{1}, []byte{0}))
	assert.False(t, ModeChecksum.Verify([]byte{1}, []byte{1, 0}))
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()
	p, err := ParsePacketSize("1k")
	require.NoError(t, err)
	assert.Equal(t, Packet1K, p)
	p, err = ParsePacketSize("128")
	require.NoError(t, err)
	assert.Equal(t, Packet128, p)
	_, err = ParsePacketSize("512")
	assert.ErrorIs(t, err, ErrInvalidOptions)

	m, err := ParseMode("sum")
	require.NoError(t, err)
	assert.Equal(t, ModeChecksum, m)
	_, err = ParseMode("crc32")
	assert.ErrorIs(t, err, ErrInvalidOptions)

	assert.Equal(t, SOH, Packet128.Code())
	assert.Equal(t, STX, Packet1K.Code())
	assert.Equal(t, 1029, frameSize(Packet1K, ModeCRC))
	assert.Equal(t, 132, frameSize(Packet128, ModeChecksum))
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultOptions().Validate())
	tests := []struct {
		name string
		mod  func(*Options)
	}{
		{"badPacket", func(o *Options) { o.PacketSize = 512 }},
		{"badMode", func(o *Options) { o.Mode = Mode(9) }},
		{"badRetries", func(o *Options) { o.MaxRetries = 0 }},
		{"badRetrans", func(o *Options) { o.MaxRetransmissions = -1 }},
		{"badTimeout", func(o *Options) { o.Timeout = 0 }},
	}
	for _, tc := range tests {
		o := DefaultOptions()
		tc.mod(&o)
		assert.ErrorIs(t, o.Validate(), ErrInvalidOptions, tc.name)
	}
}
