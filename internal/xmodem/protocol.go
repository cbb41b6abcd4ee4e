// Package xmodem implements the XMODEM sender and receiver state machines
// over a device.Device.
//
// Wire format, one packet in flight:
//
//	code(1) | seq(1) | ^seq(1) | payload(128 or 1024, padded with 0x1A) | trailer
//
// The trailer is an 8-bit additive checksum or a big-endian CRC-16/XMODEM,
// chosen once per session by the receiver's start byte ('C' for CRC, NAK for
// checksum).
package xmodem

import "fmt"

// Control bytes.
const (
	SOH byte = 0x01 // 128-byte packet
	STX byte = 0x02 // 1024-byte packet
	EOT byte = 0x04
	ACK byte = 0x06
	NAK byte = 0x15
	CAN byte = 0x18
	SUB byte = 0x1A // payload padding
	CRC byte = 'C'  // receiver requests CRC mode
)

const headerSize = 3

// PacketSize selects the payload length for the whole session.
type PacketSize int

const (
	Packet128 PacketSize = 128
	Packet1K  PacketSize = 1024
)

// Code returns the header byte announcing this packet size.
func (p PacketSize) Code() byte {
	if p == Packet1K {
		return STX
	}
	return SOH
}

func (p PacketSize) valid() bool { return p == Packet128 || p == Packet1K }

func (p PacketSize) String() string {
	switch p {
	case Packet128:
		return "128"
	case Packet1K:
		return "1k"
	default:
		return fmt.Sprintf("invalid(%d)", int(p))
	}
}

// ParsePacketSize accepts "128", "1k" or "1024".
func ParsePacketSize(s string) (PacketSize, error) {
	switch s {
	case "128":
		return Packet128, nil
	case "1k", "1K", "1024":
		return Packet1K, nil
	default:
		return 0, fmt.Errorf("%w: packet size %q (use 128|1k)", ErrInvalidOptions, s)
	}
}

// Mode is the trailer algorithm.
type Mode int

const (
	// ModeAuto lets the receiver's start byte decide; a receiver in auto
	// mode asks for CRC.
	ModeAuto Mode = iota
	ModeCRC
	ModeChecksum
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeCRC:
		return "crc"
	case ModeChecksum:
		return "sum"
	default:
		return fmt.Sprintf("invalid(%d)", int(m))
	}
}

// ParseMode accepts "auto", "crc" or "sum".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto", "":
		return ModeAuto, nil
	case "crc":
		return ModeCRC, nil
	case "sum", "checksum":
		return ModeChecksum, nil
	default:
		return 0, fmt.Errorf("%w: checksum mode %q (use auto|crc|sum)", ErrInvalidOptions, s)
	}
}

// startByte is what a receiver sends to request this mode.
func (m Mode) startByte() byte {
	if m == ModeChecksum {
		return NAK
	}
	return CRC
}

// frameSize is the on-wire size of one data packet.
func frameSize(p PacketSize, m Mode) int {
	return headerSize + int(p) + m.TrailerSize()
}
