// Package device defines the byte-level capability the XMODEM engine drives
// and its file and stream implementations.
package device

import "time"

// SizeUnknown is returned by Size for devices without a known length.
const SizeUnknown int64 = -1

// Device reads and writes bytes under a timeout.
//
// Every operation blocks for at most timeout and reports how much it moved.
// Partial transfers are valid results, and a zero count means that nothing
// moved before the deadline. Devices never panic on I/O failure; they report
// short counts instead.
type Device interface {
	Recv(p []byte, timeout time.Duration) int
	Send(p []byte, timeout time.Duration) int
	Getc(timeout time.Duration) (byte, bool)
	Putc(b byte, timeout time.Duration) bool
	// Size reports the total length for file-like devices, SizeUnknown otherwise.
	Size() int64
}
