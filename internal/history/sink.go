package history

import (
	"context"

	"github.com/nerrad567/procpipe/internal/lifecycle"
)

// Sink records lifecycle events into a Repository.
type Sink struct {
	repo Repository
}

// NewSink wraps repo as a lifecycle.Sink.
func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

// Publish implements lifecycle.Sink. Stop requests are not recorded.
func (s *Sink) Publish(ctx context.Context, e lifecycle.Event) error {
	switch e.Type {
	case lifecycle.TypeStarted:
		return s.repo.Create(ctx, Run{
			ID:        e.RunID,
			Command:   e.Command,
			Dir:       e.Dir,
			PID:       e.PID,
			State:     StateRunning,
			StartedAt: e.Time,
		})

	case lifecycle.TypeLaunchFailed:
		code := -1
		ended := e.Time
		return s.repo.Create(ctx, Run{
			ID:        e.RunID,
			Command:   e.Command,
			Dir:       e.Dir,
			State:     StateLaunchFailed,
			ExitCode:  &code,
			Error:     e.Error,
			StartedAt: e.Time,
			EndedAt:   &ended,
		})

	case lifecycle.TypeExited:
		return s.repo.Finish(ctx, e.RunID, Outcome{
			State:    StateExited,
			ExitCode: e.ExitCode,
			Signal:   e.Signal,
			EndedAt:  e.Time,
		})

	default:
		return nil
	}
}

var _ lifecycle.Sink = (*Sink)(nil)
