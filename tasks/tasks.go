// Background jobs: expiry sweeps over punishments and stings, and the presence updater.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_task_runs",
	Help: "Number of background task runs, by task and status",
}, []string{"task", "status"})

var taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_task_duration_sec",
	Help:    "Duration of background task runs",
	Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
}, []string{"task"})

// Task is a job run on a fixed interval.
type Task struct {
	Name     string
	Interval time.Duration
	// run once at startup, before the first tick
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Runner runs tasks until its context is cancelled. A task never overlaps with itself.
type Runner struct {
	Logger *slog.Logger
	Tasks  []Task

	wg sync.WaitGroup
}

func NewRunner(logger *slog.Logger, tasks ...Task) *Runner {
	return &Runner{
		Logger: logger.With("component", "tasks"),
		Tasks:  tasks,
	}
}

// Start launches every task and returns immediately.
func (r *Runner) Start(ctx context.Context) {
	for _, t := range r.Tasks {
		r.wg.Add(1)
		go func(t Task) {
			defer r.wg.Done()
			r.runPeriodically(ctx, t)
		}(t)
	}
}

// Wait blocks until every task loop has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) runPeriodically(ctx context.Context, t Task) {
	logger := r.Logger.With("task", t.Name)
	logger.Info("starting task", "interval", t.Interval)
	if t.RunOnStart {
		r.runOnce(ctx, logger, t)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping task")
			return
		case <-ticker.C:
			r.runOnce(ctx, logger, t)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, logger *slog.Logger, t Task) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			taskRuns.WithLabelValues(t.Name, "panic").Inc()
			logger.Error("task panicked", "panic", p, "severity", "critical")
		}
	}()
	err := t.Run(ctx)
	taskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		taskRuns.WithLabelValues(t.Name, "error").Inc()
		if ctx.Err() == nil {
			logger.Error("task failed", "err", err)
		}
		return
	}
	taskRuns.WithLabelValues(t.Name, "ok").Inc()
}
