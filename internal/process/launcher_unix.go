//go:build unix

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/procpipe/internal/descriptor"
)

// OSLauncher launches children with os.StartProcess. The child gets fresh
// pipes on fds 0-2 and is placed in its own process group; no shell and no
// controlling terminal are involved.
type OSLauncher struct{}

// Launch implements Launcher.
func (OSLauncher) Launch(spec LaunchSpec) (OSProcess, Pipes, error) {
	if len(spec.Argv) == 0 {
		return nil, Pipes{}, ErrInvalidCommand
	}

	path, err := lookPath(spec.Argv[0], spec.Dir)
	if err != nil {
		return nil, Pipes{}, err
	}

	var pipes Pipes
	var childFiles []*os.File
	closeChild := func() {
		for _, f := range childFiles {
			_ = f.Close() //nolint:errcheck // Parent copy of child end
		}
	}

	for _, p := range []struct {
		name       string
		childReads bool
		parent     **descriptor.Descriptor
	}{
		{"stdin", true, &pipes.Stdin},
		{"stdout", false, &pipes.Stdout},
		{"stderr", false, &pipes.Stderr},
	} {
		parent, child, err := newStdioPipe(p.name, p.childReads)
		if err != nil {
			closeChild()
			pipes.Close()
			return nil, Pipes{}, err
		}
		*p.parent = parent
		childFiles = append(childFiles, child)
	}

	proc, err := os.StartProcess(path, spec.Argv, &os.ProcAttr{
		Dir:   spec.Dir,
		Env:   spec.Env,
		Files: childFiles,
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	closeChild()
	if err != nil {
		pipes.Close()
		return nil, Pipes{}, fmt.Errorf("starting %s: %w", spec.Argv[0], err)
	}

	return &osProcess{proc: proc, pid: proc.Pid}, pipes, nil
}

// newStdioPipe returns the parent end as a Descriptor and the child end as
// an *os.File ready to be inherited. Both start close-on-exec; StartProcess
// dups the child end onto 0-2 which clears the flag in the child.
func newStdioPipe(name string, childReads bool) (*descriptor.Descriptor, *os.File, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("creating %s pipe: %w", name, err)
	}

	parentFd, childFd := fds[0], fds[1]
	if childReads {
		parentFd, childFd = fds[1], fds[0]
	}
	return descriptor.New(parentFd, name), os.NewFile(uintptr(childFd), name), nil
}

// lookPath resolves argv[0] the way execvp would. Relative paths with a
// slash are taken relative to the child's working directory.
func lookPath(name, dir string) (string, error) {
	if strings.Contains(name, "/") && !filepath.IsAbs(name) && dir != "" {
		name = filepath.Join(dir, name)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", name, err)
	}
	return path, nil
}

// osProcess reads status with wait4(WNOHANG). Once the child is reaped the
// kernel forgets it, so the final snapshot is kept and returned from then on.
type osProcess struct {
	proc   *os.Process
	pid    int
	reaped bool
	final  Snapshot
}

func (p *osProcess) Pid() int {
	return p.pid
}

func (p *osProcess) Query() (Snapshot, error) {
	if p.reaped {
		return p.final, nil
	}

	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			// Reaped elsewhere; the exit status is unknowable.
			p.markReaped(Snapshot{PID: p.pid, ExitCode: -1})
			return p.final, nil
		case err != nil:
			return Snapshot{}, fmt.Errorf("wait4 %d: %w", p.pid, err)
		case wpid == 0:
			return Snapshot{PID: p.pid, Running: true, ExitCode: -1}, nil
		case ws.Stopped():
			return Snapshot{
				PID:        p.pid,
				Running:    true,
				ExitCode:   -1,
				Stopped:    true,
				StopSignal: syscall.Signal(ws.StopSignal()),
			}, nil
		}

		snap := Snapshot{PID: p.pid, ExitCode: ws.ExitStatus()}
		if ws.Signaled() {
			snap.Signaled = true
			snap.TermSignal = syscall.Signal(ws.Signal())
			snap.ExitCode = -1
		}
		p.markReaped(snap)
		return p.final, nil
	}
}

func (p *osProcess) markReaped(snap Snapshot) {
	p.reaped = true
	p.final = snap
}

// Signal targets the whole process group; the child is its group leader.
func (p *osProcess) Signal(sig syscall.Signal) error {
	if p.reaped {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-p.pid, sig); err != nil {
		return fmt.Errorf("signalling process group %d: %w", p.pid, err)
	}
	return nil
}

func (p *osProcess) Release() error {
	if p.proc == nil {
		return nil
	}
	err := p.proc.Release()
	p.proc = nil
	return err
}
