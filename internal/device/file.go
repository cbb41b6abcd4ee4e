package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// File adapts a plain reader and/or writer (usually *os.File) to Device.
// Files never block, so timeouts are ignored.
type File struct {
	r     io.Reader
	w     io.Writer
	c     io.Closer
	sizer any

	mu      sync.Mutex
	lastErr error
}

// NewFile wraps rw. rw may implement only io.Reader or only io.Writer; the
// missing direction then transfers nothing.
func NewFile(rw any) *File {
	f := &File{}
	if r, ok := rw.(io.Reader); ok {
		f.r = r
	}
	if w, ok := rw.(io.Writer); ok {
		f.w = w
	}
	if c, ok := rw.(io.Closer); ok {
		f.c = c
	}
	f.sizer = rw
	return f
}

// OpenSource opens path for reading.
func OpenSource(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return NewFile(fh), nil
}

// CreateSink creates (or truncates) path for writing.
func CreateSink(path string) (*File, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return NewFile(fh), nil
}

// Recv reads until len(p) bytes arrived, the reader reports EOF, or it fails.
func (f *File) Recv(p []byte, _ time.Duration) int {
	if f.r == nil {
		return 0
	}
	got := 0
	for remaining := len(p); remaining > 0; remaining = len(p) - got {
		n, err := f.r.Read(p[got:])
		if n < 0 || n > remaining {
			f.setErr(fmt.Errorf("read returned %d for %d bytes", n, remaining))
			return got
		}
		got += n
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.setErr(err)
			}
			return got
		}
		if n == 0 {
			f.setErr(io.ErrNoProgress)
			return got
		}
	}
	return got
}

// Send writes p in full unless the writer fails.
func (f *File) Send(p []byte, _ time.Duration) int {
	if f.w == nil {
		return 0
	}
	sent := 0
	for sent < len(p) {
		n, err := f.w.Write(p[sent:])
		if n > 0 {
			sent += n
		}
		if err != nil {
			f.setErr(err)
			return sent
		}
		if n == 0 {
			f.setErr(io.ErrShortWrite)
			return sent
		}
	}
	return sent
}

// Getc reads one byte.
func (f *File) Getc(timeout time.Duration) (byte, bool) {
	var b [1]byte
	if f.Recv(b[:], timeout) != 1 {
		return 0, false
	}
	return b[0], true
}

// Putc writes one byte.
func (f *File) Putc(b byte, timeout time.Duration) bool {
	return f.Send([]byte{b}, timeout) == 1
}

// Size returns the length of the underlying file, or SizeUnknown.
func (f *File) Size() int64 {
	switch s := f.sizer.(type) {
	case interface{ Stat() (os.FileInfo, error) }:
		fi, err := s.Stat()
		if err != nil || !fi.Mode().IsRegular() {
			return SizeUnknown
		}
		return fi.Size()
	case io.Seeker:
		cur, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return SizeUnknown
		}
		end, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return SizeUnknown
		}
		if _, err := s.Seek(cur, io.SeekStart); err != nil {
			return SizeUnknown
		}
		return end
	case interface{ Len() int }:
		return int64(s.Len())
	}
	return SizeUnknown
}

// Err returns the last non-EOF I/O error observed, if any.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *File) setErr(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

// Close closes the underlying handle when it is closable.
func (f *File) Close() error {
	if f.c == nil {
		return nil
	}
	return f.c.Close()
}
