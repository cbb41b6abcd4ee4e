package xmodem

import (
	"errors"

	"github.com/kstaniek/go-xmodem/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrInvalidOptions          = errors.New("xmodem: invalid options")
	ErrNegotiation             = errors.New("xmodem: negotiation failed")
	ErrRetransmissionExhausted = errors.New("xmodem: retransmissions exhausted")
	ErrPeerCancelled           = errors.New("xmodem: cancelled by peer")
	ErrEOTUnacknowledged       = errors.New("xmodem: end of transfer not acknowledged")
	ErrSourceRead              = errors.New("xmodem: source read")
	ErrSinkWrite               = errors.New("xmodem: sink write")
	ErrAborted                 = errors.New("xmodem: aborted")
)

// resultLabel maps a session error to the xmodem_transfers_total result label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNegotiation):
		return "negotiation"
	case errors.Is(err, ErrRetransmissionExhausted):
		return "retransmissions"
	case errors.Is(err, ErrPeerCancelled):
		return "peer_cancelled"
	case errors.Is(err, ErrEOTUnacknowledged):
		return "eot"
	case errors.Is(err, ErrSourceRead):
		metrics.IncError(metrics.ErrSourceRead)
		return "source"
	case errors.Is(err, ErrSinkWrite):
		metrics.IncError(metrics.ErrSinkWrite)
		return "sink"
	case errors.Is(err, ErrAborted):
		return "aborted"
	default:
		return "other"
	}
}
