package worker

import (
	"context"
	"log/slog"
	"time"
)

type Config struct {
	Name      string
	Processor Processor
}

type Processor interface {
	ProcessMessage(ctx context.Context)
}

// Worker pumps a Processor until the context is cancelled. Used for the
// kafka-consuming alert evaluator.
type Worker struct {
	name      string
	processor Processor
}

func New(cfg Config) *Worker {
	return &Worker{
		name:      cfg.Name,
		processor: cfg.Processor,
	}
}

func (w *Worker) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Worker started...", "worker", w.name)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopped...", "worker", w.name)
			return
		default:
			w.processor.ProcessMessage(ctx)
		}
	}
}

// Job is one pass of a scheduled batch task. Jobs have no caller to cancel
// them; they run to completion and handle their own per-item failures.
type Job interface {
	Run(ctx context.Context)
}

// Interval runs a Job on a fixed period.
type Interval struct {
	name  string
	every time.Duration
	job   Job
}

func NewInterval(name string, every time.Duration, job Job) *Interval {
	return &Interval{name: name, every: every, job: job}
}

func (i *Interval) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Interval worker started...", "worker", i.name, "every", i.every.String())
	ticker := time.NewTicker(i.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Interval worker stopped...", "worker", i.name)
			return
		case <-ticker.C:
			i.job.Run(ctx)
		}
	}
}

// Daily runs a Job once a day at the given local hour.
type Daily struct {
	name string
	hour int
	job  Job
}

func NewDaily(name string, hour int, job Job) *Daily {
	return &Daily{name: name, hour: hour, job: job}
}

func (d *Daily) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Daily worker started...", "worker", d.name, "hour", d.hour)
	for {
		next := nextDailyRun(time.Now(), d.hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.InfoContext(ctx, "Daily worker stopped...", "worker", d.name)
			return
		case <-timer.C:
			d.job.Run(ctx)
		}
	}
}

// nextDailyRun returns the next occurrence of hour:00 strictly after now,
// in now's location.
func nextDailyRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
