package serial

import (
	"fmt"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Config describes a serial line. Zero values select 8N1 and a blocking read.
type Config struct {
	Name        string
	Baud        int
	Parity      string // none, odd or even
	ReadTimeout time.Duration
}

// ParseParity maps a parity name to the tarm/serial constant.
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(s) {
	case "", "none", "n":
		return serial.ParityNone, nil
	case "odd", "o":
		return serial.ParityOdd, nil
	case "even", "e":
		return serial.ParityEven, nil
	}
	return 0, fmt.Errorf("invalid parity %q (want none|odd|even)", s)
}

func Open(c Config) (Port, error) {
	parity, err := ParseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	cfg := &serial.Config{
		Name:        c.Name,
		Baud:        c.Baud,
		Size:        8,
		Parity:      parity,
		StopBits:    serial.Stop1,
		ReadTimeout: c.ReadTimeout,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Name, err)
	}
	return p, nil
}
