package runner

import (
	"errors"
	"io"

	"github.com/nerrad567/procpipe/internal/descriptor"
)

// stdinPump reads the caller's input on its own goroutine, since that
// reader usually blocks, and hands chunks to the run loop.
type stdinPump struct {
	chunks chan []byte
	quit   chan struct{}
}

func startStdinPump(r io.Reader, size int) *stdinPump {
	p := &stdinPump{
		chunks: make(chan []byte),
		quit:   make(chan struct{}),
	}
	go func() {
		defer close(p.chunks)
		for {
			buf := make([]byte, size)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case p.chunks <- buf[:n]:
				case <-p.quit:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return p
}

// stop releases the reading goroutine once its current Read returns.
func (p *stdinPump) stop() {
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
}

// stdinFeed moves pumped input into the child's stdin without blocking.
type stdinFeed struct {
	pump    *stdinPump
	child   *descriptor.Descriptor
	pending []byte
	logger  Logger
}

// step writes what it can. It closes the child's stdin after the caller's
// EOF once everything pending has been written, or when the child stops
// reading.
func (f *stdinFeed) step() {
	if f.child == nil {
		return
	}

	if len(f.pending) == 0 {
		select {
		case chunk, ok := <-f.pump.chunks:
			if !ok {
				f.close()
				return
			}
			f.pending = chunk
		default:
			return
		}
	}

	n, err := f.child.Write(f.pending)
	f.pending = f.pending[n:]
	switch {
	case err == nil, errors.Is(err, descriptor.ErrWouldBlock):
	default:
		f.logger.Debug("child stdin closed early", "error", err)
		f.close()
	}
}

func (f *stdinFeed) close() {
	if f.child == nil {
		return
	}
	f.pump.stop()
	if err := f.child.Close(); err != nil {
		f.logger.Debug("closing child stdin", "error", err)
	}
	f.child = nil
	f.pending = nil
}
