package descriptor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// readyMask covers readable data as well as hang-up and error conditions;
// all of them mean a Read will return without blocking.
const readyMask = unix.POLLIN | unix.POLLHUP | unix.POLLERR

// Poll waits up to timeout for any of ds to become readable and returns the
// ready subset in argument order. Closed descriptors are skipped. A negative
// timeout waits indefinitely; zero checks without waiting.
//
// An interrupted wait (EINTR) is reported as "nothing ready".
func Poll(timeout time.Duration, ds ...*Descriptor) ([]*Descriptor, error) {
	return poll(unix.POLLIN, readyMask, timeout, ds)
}

// PollWrite is the write-side counterpart of Poll: it returns the
// descriptors that can accept a write (or whose reader has gone away).
func PollWrite(timeout time.Duration, ds ...*Descriptor) ([]*Descriptor, error) {
	return poll(unix.POLLOUT, unix.POLLOUT|unix.POLLHUP|unix.POLLERR, timeout, ds)
}

func poll(events, mask int16, timeout time.Duration, ds []*Descriptor) ([]*Descriptor, error) {
	fds := make([]unix.PollFd, 0, len(ds))
	open := make([]*Descriptor, 0, len(ds))
	for _, d := range ds {
		if d == nil || d.closed {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(d.fd), Events: events}) //nolint:gosec // fds fit in int32
		open = append(open, d)
	}
	if len(fds) == 0 {
		return nil, nil
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("polling descriptors: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]*Descriptor, 0, n)
	for i, pfd := range fds {
		if pfd.Revents&mask != 0 {
			ready = append(ready, open[i])
		}
	}
	return ready, nil
}
