package descriptor

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Sentinel errors for descriptor operations.
var (
	// ErrWouldBlock is returned by Read and Write on a non-blocking descriptor
	// when the operation cannot make progress yet.
	ErrWouldBlock = errors.New("descriptor: operation would block")

	// ErrClosed is returned when operating on a closed descriptor.
	ErrClosed = errors.New("descriptor: closed")
)

// Descriptor is a stream wrapper around one end of a pipe.
type Descriptor struct {
	fd       int
	name     string
	nonblock bool
	closed   bool
}

// New wraps an open file descriptor. The Descriptor takes ownership of fd
// and closes it in Close.
func New(fd int, name string) *Descriptor {
	return &Descriptor{fd: fd, name: name}
}

// Pipe creates a pipe and returns its read and write ends. Both ends are
// close-on-exec and start in blocking mode.
func Pipe(name string) (r, w *Descriptor, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("creating %s pipe: %w", name, err)
	}
	return New(fds[0], name+"-r"), New(fds[1], name+"-w"), nil
}

// Fd returns the underlying file descriptor, or -1 once closed.
func (d *Descriptor) Fd() int {
	if d.closed {
		return -1
	}
	return d.fd
}

// Name returns the label given at construction (e.g. "stdout").
func (d *Descriptor) Name() string {
	return d.name
}

// Blocking reports whether the descriptor is still in blocking mode.
func (d *Descriptor) Blocking() bool {
	return !d.nonblock
}

// Closed reports whether Close has been called.
func (d *Descriptor) Closed() bool {
	return d.closed
}

// Unblock switches the descriptor to non-blocking mode. Calling it again is
// a no-op.
func (d *Descriptor) Unblock() error {
	if d.closed {
		return ErrClosed
	}
	if d.nonblock {
		return nil
	}
	if err := unix.SetNonblock(d.fd, true); err != nil {
		return fmt.Errorf("unblocking %s: %w", d.name, err)
	}
	d.nonblock = true
	return nil
}

// Read reads up to len(p) bytes.
//
// It returns io.EOF when the write end has been closed and all data drained,
// and ErrWouldBlock when the descriptor is non-blocking and the pipe is empty.
func (d *Descriptor) Read(p []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(d.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("reading %s: %w", d.name, err)
		}
	}
}

// Write writes p, returning the number of bytes accepted.
//
// On a non-blocking descriptor a full pipe yields a short write, or
// ErrWouldBlock when nothing at all could be written.
func (d *Descriptor) Write(p []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}

	written := 0
	for written < len(p) {
		n, err := unix.Write(d.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil && n == 0:
			return written, io.ErrShortWrite
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if written > 0 {
				return written, nil
			}
			return 0, ErrWouldBlock
		default:
			return written, fmt.Errorf("writing %s: %w", d.name, err)
		}
	}
	return written, nil
}

// Close releases the file descriptor. Subsequent calls return nil.
func (d *Descriptor) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("closing %s: %w", d.name, err)
	}
	return nil
}

var _ io.ReadWriteCloser = (*Descriptor)(nil)
