package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard 5-field expressions plus descriptors like "@every 30s".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a periodic sweep. Errors are logged and do not stop the schedule.
type Job func(ctx context.Context) error

type RunnerConfig struct {
	FollowupSpec string
	DrainSpec    string
	Followups    Job
	Drain        Job
	Logger       *slog.Logger
}

type entry struct {
	name     string
	schedule cron.Schedule
	job      Job
}

// Runner fires the followup and queue-drain sweeps on their cron specs.
// Overlapping runs of the same job are skipped.
type Runner struct {
	entries []entry
	logger  *slog.Logger
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Runner{logger: cfg.Logger}
	for _, e := range []struct {
		name, spec string
		job        Job
	}{
		{"followups", cfg.FollowupSpec, cfg.Followups},
		{"drain", cfg.DrainSpec, cfg.Drain},
	} {
		if e.spec == "" || e.job == nil {
			continue
		}
		sched, err := Parser.Parse(e.spec)
		if err != nil {
			return nil, fmt.Errorf("%s schedule %q: %w", e.name, e.spec, err)
		}
		r.entries = append(r.entries, entry{name: e.name, schedule: sched, job: e.job})
	}
	return r, nil
}

// Jobs reports how many sweeps are scheduled.
func (r *Runner) Jobs() int { return len(r.entries) }

// Start runs the schedule until ctx is done, then waits for running jobs.
func (r *Runner) Start(ctx context.Context) {
	if len(r.entries) == 0 {
		return
	}
	lg := cronLogger{r.logger}
	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLogger(lg),
		cron.WithChain(cron.Recover(lg), cron.SkipIfStillRunning(lg)),
	)
	for _, e := range r.entries {
		c.Schedule(e.schedule, cron.FuncJob(r.wrap(ctx, e)))
	}

	r.logger.Info("scheduler started", "jobs", len(r.entries))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("scheduler stopped")
}

func (r *Runner) wrap(ctx context.Context, e entry) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		if err := e.job(ctx); err != nil {
			r.logger.Warn("scheduled job failed", "job", e.name, "err", err)
			return
		}
		r.logger.Debug("scheduled job done", "job", e.name)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
