package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config configures the Scheduler's tick loop.
type Config struct {
	// TickInterval is the cadence of the tick loop. Defaults to 60
	// seconds, per spec §4.11.
	TickInterval time.Duration

	// PurgeEveryTicks controls how often completed tasks past their
	// retention window are removed. Defaults to 100.
	PurgeEveryTicks int

	// Retention is how long a completed task is kept before it becomes
	// eligible for purge. Defaults to 7 days.
	Retention time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.PurgeEveryTicks <= 0 {
		c.PurgeEveryTicks = 100
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "scheduler")
	}
	return c
}

// Scheduler is the Scheduler component of spec §4.11: a single tick
// loop that, on each tick, runs every due task sequentially through a
// Runner and persists state via Store.
type Scheduler struct {
	store  Store
	runner Runner
	config Config

	mu      sync.Mutex
	ticks   int
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New creates a Scheduler backed by store and runner.
func New(store Store, runner Runner, config Config) *Scheduler {
	return &Scheduler{
		store:  store,
		runner: runner,
		config: config.withDefaults(),
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
// It blocks until the loop exits.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	defer close(s.stopped)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			s.Tick(runCtx, time.Now())
		}
	}
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Tick runs spec §4.11's per-tick algorithm once: load all due tasks
// and execute them sequentially, then, every PurgeEveryTicks calls,
// purge completed tasks past their retention window.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due, err := s.store.DueTasks(ctx, now)
	if err != nil {
		s.config.Logger.Error("list due tasks", "error", err)
		return
	}

	for _, task := range due {
		s.runTask(ctx, task, now)
	}

	s.mu.Lock()
	s.ticks++
	ticks := s.ticks
	s.mu.Unlock()

	if ticks%s.config.PurgeEveryTicks == 0 {
		s.purge(ctx, now)
	}
}

func (s *Scheduler) runTask(ctx context.Context, task *Task, now time.Time) {
	task.Status = TaskStatusRunning
	if err := s.store.Update(ctx, task); err != nil {
		s.config.Logger.Error("persist running task", "task_id", task.ID, "error", err)
		return
	}

	runErr := s.runner.Run(ctx, task.Command)
	task.LastRunAt = &now

	if runErr != nil {
		s.config.Logger.Error("task run failed", "task_id", task.ID, "error", runErr)
	}

	switch task.Type {
	case TaskOnce:
		if runErr != nil {
			task.Status = TaskStatusFailed
		} else {
			task.Status = TaskStatusCompleted
		}
	default:
		next, err := computeNextRun(task, now)
		if err != nil {
			// A non-parseable cron expression is marked failed on its
			// first tick and never retried automatically (spec §4.11).
			s.config.Logger.Error("compute next run", "task_id", task.ID, "error", err)
			task.Status = TaskStatusFailed
		} else {
			task.NextRunAt = next
			task.Status = TaskStatusPending
		}
	}

	if err := s.store.Update(ctx, task); err != nil {
		s.config.Logger.Error("persist completed task", "task_id", task.ID, "error", err)
	}
}

func (s *Scheduler) purge(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.config.Retention)
	removed, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		s.config.Logger.Error("purge completed tasks", "error", err)
		return
	}
	if removed > 0 {
		s.config.Logger.Info("purged completed tasks", "count", removed, "cutoff", cutoff)
	}
}
