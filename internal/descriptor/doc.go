// Package descriptor wraps a raw pipe file descriptor as a stream that can be
// switched into non-blocking mode and polled for readiness.
//
// A Descriptor starts in blocking mode. Unblock switches it to non-blocking
// mode; from then on Read and Write return ErrWouldBlock instead of stalling
// the caller when no data or buffer space is available:
//
//	out.Unblock()
//	n, err := out.Read(buf)
//	switch {
//	case errors.Is(err, descriptor.ErrWouldBlock):
//	    // nothing yet, poll again later
//	case errors.Is(err, io.EOF):
//	    // writer side closed
//	}
//
// Poll waits for several descriptors at once using poll(2):
//
//	ready, err := descriptor.Poll(50*time.Millisecond, stdout, stderr)
//
// The descriptors deliberately bypass the Go runtime network poller so that
// EAGAIN is surfaced to the caller rather than parking the goroutine.
//
// Thread Safety: a Descriptor has a single owner. Close is safe to call more
// than once.
package descriptor
