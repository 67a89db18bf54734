// Package process supervises a single child process through a Handle.
//
// A Handle launches the child directly (no shell) in its own process group,
// wires its standard streams to pipes, and answers status questions by
// querying the OS on demand. The pid and exit code are memoized the first
// time they are observed.
//
// Features:
//   - Argv or shell-style command lines (tokenized, never run through /bin/sh)
//   - Non-blocking stdin/stdout/stderr descriptors for poll-driven I/O
//   - Group-wide signal delivery via Stop
//   - Close never kills: a running child is released, not terminated
//
// Example usage:
//
//	h := process.New(process.Argv("echo", "hi"))
//	if err := h.Start(); err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	out, err := h.Stdout()
//	if err != nil {
//	    return err
//	}
//	buf := make([]byte, 32*1024)
//	for {
//	    if _, err := descriptor.Poll(50*time.Millisecond, out); err != nil {
//	        return err
//	    }
//	    n, err := out.Read(buf)
//	    os.Stdout.Write(buf[:n])
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil && !errors.Is(err, descriptor.ErrWouldBlock) {
//	        return err
//	    }
//	}
//	code, _, err := h.Code()
package process
