package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sink renders a reply on a channel.
type Sink interface {
	// SetTyping turns the typing indicator on or off.
	SetTyping(ctx context.Context, on bool) error
	// Deliver makes fragment index visible.
	Deliver(ctx context.Context, index int) error
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default WaitFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Scheduler executes delivery plans against a sink.
type Scheduler struct {
	timing *Timing
	wait   WaitFunc
	logger *slog.Logger
}

// NewScheduler creates a scheduler. A nil wait uses Sleep.
func NewScheduler(timing *Timing, wait WaitFunc, logger *slog.Logger) *Scheduler {
	if wait == nil {
		wait = Sleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{timing: timing, wait: wait, logger: logger.With("component", "delivery")}
}

// Plan exposes the timing model.
func (s *Scheduler) Plan(input string, fragments []string) Plan {
	return s.timing.Plan(input, fragments)
}

// Run plans and delivers fragments. It returns the number of fragments
// delivered. Once ctx is cancelled no further fragment is delivered.
func (s *Scheduler) Run(ctx context.Context, input string, fragments []string, sink Sink) (int, error) {
	return s.Execute(ctx, s.timing.Plan(input, fragments), sink)
}

// Execute runs a precomputed plan.
func (s *Scheduler) Execute(ctx context.Context, plan Plan, sink Sink) (int, error) {
	delivered := 0
	typing := false

	stopTyping := func() {
		if !typing {
			return
		}
		typing = false
		// Indicator cleanup must survive a cancelled ctx.
		if err := sink.SetTyping(context.WithoutCancel(ctx), false); err != nil {
			s.logger.DebugContext(ctx, "Failed to clear typing indicator", "error", err)
		}
	}
	defer stopTyping()

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		switch step.Kind {
		case StepType:
			if err := sink.SetTyping(ctx, true); err != nil {
				s.logger.DebugContext(ctx, "Failed to set typing indicator", "error", err)
			} else {
				typing = true
			}
			if err := s.wait(ctx, step.Delay); err != nil {
				return delivered, err
			}

		case StepDeliver:
			stopTyping()
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
			if err := sink.Deliver(ctx, step.Fragment); err != nil {
				return delivered, fmt.Errorf("failed to deliver fragment %d: %w", step.Fragment, err)
			}
			delivered++

		default:
			if err := s.wait(ctx, step.Delay); err != nil {
				return delivered, err
			}
		}
	}
	return delivered, nil
}
