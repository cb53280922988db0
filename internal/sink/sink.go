// Package sink reads raw bytes off a transport and hands them to a
// consumer as timestamped chunks. The reader goroutine does no parsing,
// redaction, or persistence work; it only reads and pushes, so a slow
// consumer backs up a bounded channel instead of a slow read loop
// corrupting timing data.
package sink

import (
	"context"
	"io"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Chunk is one read, timestamped at arrival.
type Chunk struct {
	At     time.Time
	Data   []byte
	IsUTF8 bool
}

const readBufSize = 4096

// Sink owns a single reader goroutine over r, supervised by an errgroup so
// Err can be called any number of times and always reports the same
// outcome. Chunks are available on the channel returned by Chunks until
// the reader hits EOF or an error, at which point the channel is closed.
type Sink struct {
	chunks chan Chunk
	g      *errgroup.Group
}

// New starts the reader goroutine immediately. capacity bounds how many
// unconsumed chunks may queue before the reader blocks (or, if ctx is
// canceled first, abandons the read).
func New(ctx context.Context, r io.Reader, capacity int) *Sink {
	g, gctx := errgroup.WithContext(ctx)
	s := &Sink{
		chunks: make(chan Chunk, capacity),
		g:      g,
	}
	g.Go(func() error { return s.run(gctx, r) })
	return s
}

func (s *Sink) run(ctx context.Context, r io.Reader) error {
	defer close(s.chunks)
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			chunk := Chunk{At: time.Now(), Data: data, IsUTF8: utf8.Valid(data)}
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Chunks returns the channel of arriving chunks. It closes when the
// underlying reader is exhausted or the context is canceled.
func (s *Sink) Chunks() <-chan Chunk {
	return s.chunks
}

// Err blocks until the reader goroutine has finished and returns why it
// stopped: nil on clean EOF, ctx.Err() on cancellation, or the read error
// otherwise. Safe to call any number of times. Callers should drain
// Chunks() to EOF before calling Err.
func (s *Sink) Err() error {
	return s.g.Wait()
}
