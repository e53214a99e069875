// Package relay moves frames over a pair of byte streams.
//
// Each frame is a 17 byte prefix followed by the body. The prefix carries the
// flags byte and the body size twice, little and big endian, and a reader
// rejects frames where the two disagree.
package relay

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// StreamRelay reads frames from one stream and writes frames to another,
// typically the stdin and stdout of the worker process.
type StreamRelay struct {
	in           *bufio.Reader
	out          io.Writer
	maxFrameSize int

	mu     sync.Mutex
	closed bool
}

type Option func(r *StreamRelay)

// WithMaxFrameSize caps the body size accepted by Receive. Zero disables the
// check.
func WithMaxFrameSize(n int) Option {
	return func(r *StreamRelay) {
		r.maxFrameSize = n
	}
}

func NewStreamRelay(in io.Reader, out io.Writer, opts ...Option) *StreamRelay {
	r := &StreamRelay{
		in:           bufio.NewReader(in),
		out:          out,
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// MaxFrameSize returns the configured body size limit.
func (r *StreamRelay) MaxFrameSize() int {
	return r.maxFrameSize
}

// Send writes f as a single write so a frame is never interleaved with
// another writer's output.
func (r *StreamRelay) Send(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return io.ErrClosedPipe
	}

	buf := make([]byte, 0, PrefixSize+len(f.Body))
	buf = appendPrefix(buf, f.Flags, len(f.Body))
	buf = append(buf, f.Body...)

	_, err := r.out.Write(buf)
	return err
}

// Receive blocks until the next frame arrives. It returns io.EOF when the
// stream ends cleanly between frames and io.ErrUnexpectedEOF when it ends
// inside one.
func (r *StreamRelay) Receive() (Frame, error) {
	prefix := make([]byte, PrefixSize)
	if _, err := io.ReadFull(r.in, prefix); err != nil {
		return Frame{}, err
	}

	flags, size, err := parsePrefix(prefix, r.maxFrameSize)
	if err != nil {
		return Frame{}, err
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r.in, body); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	return Frame{Flags: flags, Body: body}, nil
}

// Close closes the output stream when it is closable. Further sends fail.
func (r *StreamRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if c, ok := r.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
