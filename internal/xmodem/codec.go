package xmodem

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

// CRC-16/XMODEM: poly 0x1021, init 0, no reflection, no final xor.
var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CRC16 returns the CRC-16/XMODEM of p.
func CRC16(p []byte) uint16 { return crc16.Checksum(p, crcTable) }

// Checksum8 returns the sum of p modulo 256.
func Checksum8(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return sum
}

// TrailerSize is 2 for CRC and 1 for checksum mode.
func (m Mode) TrailerSize() int {
	if m == ModeChecksum {
		return 1
	}
	return 2
}

// AppendTrailer appends the trailer for payload to dst.
func (m Mode) AppendTrailer(dst, payload []byte) []byte {
	if m == ModeChecksum {
		return append(dst, Checksum8(payload))
	}
	return binary.BigEndian.AppendUint16(dst, CRC16(payload))
}

// Verify reports whether trailer matches payload.
func (m Mode) Verify(payload, trailer []byte) bool {
	if len(trailer) != m.TrailerSize() {
		return false
	}
	if m == ModeChecksum {
		return trailer[0] == Checksum8(payload)
	}
	return binary.BigEndian.Uint16(trailer) == CRC16(payload)
}
