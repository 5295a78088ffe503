package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/edgard/funnelbot/internal/bot/tasks"
	"github.com/edgard/funnelbot/internal/config"
)

var errSchedulerRunning = errors.New("scheduler already running")

// Scheduler runs the configured background tasks on their cron schedules.
// Runs of the same task never overlap; a run that is due while the previous
// one is still going is rescheduled.
type Scheduler struct {
	cron   gocron.Scheduler
	logger *slog.Logger
	cfg    *config.SchedulerConfig
	tasks  map[string]tasks.ScheduledTaskFunc

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler over the task registry. Nothing is
// scheduled until Start.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, registry map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.SchedulerConfig{}
	}
	s := &Scheduler{
		logger: logger.With("component", "scheduler"),
		cfg:    cfg,
		tasks:  registry,
	}

	cron, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(gocron.AfterJobRunsWithError(s.jobFailed)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cron scheduler: %w", err)
	}
	s.cron = cron
	return s, nil
}

// Start registers every enabled task with a schedule and a registry entry,
// then starts the cron loop. Misconfigured tasks are logged and skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errSchedulerRunning
	}

	names := make([]string, 0, len(s.cfg.Tasks))
	for name := range s.cfg.Tasks {
		names = append(names, name)
	}
	slices.Sort(names)

	scheduled := 0
	for _, name := range names {
		if s.schedule(name, s.cfg.Tasks[name]) {
			scheduled++
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", "configured", len(names), "scheduled", scheduled)
	return nil
}

func (s *Scheduler) schedule(name string, tc config.TaskConfig) bool {
	log := s.logger.With("task_name", name)
	run, ok := s.tasks[name]
	switch {
	case !tc.Enabled:
		log.Info("Task disabled")
		return false
	case !ok:
		log.Warn("Task configured but not registered")
		return false
	case tc.Schedule == "":
		log.Warn("Task enabled without a schedule")
		return false
	}

	job := func(ctx context.Context) error {
		started := time.Now()
		err := run(ctx)
		log.DebugContext(ctx, "Task run finished", "duration", time.Since(started), "failed", err != nil)
		return err
	}
	if _, err := s.cron.NewJob(gocron.CronJob(tc.Schedule, true), gocron.NewTask(job), gocron.WithName(name)); err != nil {
		log.Error("Failed to schedule task", "schedule", tc.Schedule, "error", err)
		return false
	}
	log.Info("Task scheduled", "schedule", tc.Schedule)
	return true
}

func (s *Scheduler) jobFailed(_ uuid.UUID, name string, err error) {
	s.logger.Error("Scheduled task failed", "task_name", name, "error", err)
}

// Stop shuts the cron loop down, waiting for running tasks. Stopping a
// scheduler that is not running is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}
