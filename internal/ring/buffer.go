package ring

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ErrCapacity is returned by New when the capacity is not a power of two >= 2.
var ErrCapacity = errors.New("ring: capacity must be a power of two >= 2")

// Buffer is a fixed-capacity single-producer/single-consumer byte queue.
//
// One slot is always kept empty so a full queue can be told apart from an
// empty one: at most Cap()-1 bytes are resident. head is written only by the
// producer, tail only by the consumer. Both are accessed atomically, so a
// consumer that observes a new head also observes the bytes it publishes.
type Buffer struct {
	buf    []byte
	mask   uint32
	head   atomic.Uint32
	tail   atomic.Uint32
	notify chan struct{}
}

// New allocates a Buffer with the given capacity.
func New(capacity int) (*Buffer, error) {
	if capacity < 2 || capacity&(capacity-1) != 0 || capacity > 1<<30 {
		return nil, fmt.Errorf("%w (got %d)", ErrCapacity, capacity)
	}
	return &Buffer{
		buf:    make([]byte, capacity),
		mask:   uint32(capacity - 1),
		notify: make(chan struct{}, 1),
	}, nil
}

// Cap returns the capacity (one more than the maximum resident byte count).
func (b *Buffer) Cap() int { return len(b.buf) }

// Len returns the number of resident bytes.
func (b *Buffer) Len() int {
	return int((b.head.Load() - b.tail.Load()) & b.mask)
}

// Free returns how many bytes the producer may still commit.
func (b *Buffer) Free() int { return int(b.mask) - b.Len() }

// contiguous returns the writable region starting at head, bounded by the
// end of the backing array and by the reserved slot before tail.
func (b *Buffer) contiguous() (start uint32, n int) {
	head := b.head.Load()
	tail := b.tail.Load()
	free := int((tail - head - 1) & b.mask)
	toEnd := len(b.buf) - int(head)
	if free > toEnd {
		free = toEnd
	}
	return head, free
}

func (b *Buffer) commit(head uint32, n int) {
	b.head.Store((head + uint32(n)) & b.mask)
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Fill performs exactly one bounded read from r into the free region and
// publishes whatever arrived. It returns 0, nil without reading when the
// buffer is full. Producer side only.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	head, free := b.contiguous()
	if free == 0 {
		return 0, nil
	}
	n, err := r.Read(b.buf[head : int(head)+free])
	if n > 0 {
		b.commit(head, n)
	}
	return n, err
}

// Read copies resident bytes into p without blocking. Consumer side only.
func (b *Buffer) Read(p []byte) int {
	total := 0
	for total < len(p) {
		tail := b.tail.Load()
		head := b.head.Load()
		if tail == head {
			break
		}
		end := head
		if head < tail {
			end = uint32(len(b.buf))
		}
		n := copy(p[total:], b.buf[tail:end])
		b.tail.Store((tail + uint32(n)) & b.mask)
		total += n
	}
	return total
}

// ReadTimeout fills p until it is full or timeout elapses, whichever comes
// first, and returns the number of bytes copied. The deadline is computed once
// from the monotonic clock; a zero timeout returns what is already resident.
// Consumer side only.
func (b *Buffer) ReadTimeout(p []byte, timeout time.Duration) int {
	n := b.Read(p)
	if n == len(p) || timeout <= 0 {
		return n
	}
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for n < len(p) {
		if !time.Now().Before(deadline) {
			return n
		}
		select {
		case <-b.notify:
		case <-timer.C:
			return n + b.Read(p[n:])
		}
		n += b.Read(p[n:])
	}
	return n
}
