package agent

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers   = 4
	defaultIdlePoll  = time.Second
	defaultDrainSize = 10
)

// DrainItem reports one queued message processed by Drain.
type DrainItem struct {
	MessageID string  `json:"message_id"`
	LeadID    int64   `json:"lead_id"`
	Outcome   Outcome `json:"outcome"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
}

type DrainReport struct {
	Processed int         `json:"processed_count"`
	Remaining int         `json:"queue_size"`
	Results   []DrainItem `json:"results"`
}

// Drain handles up to max queued messages in priority order. A failed turn
// is reported and not re-queued.
func (o *Orchestrator) Drain(ctx context.Context, max int) (*DrainReport, error) {
	if max <= 0 {
		max = defaultDrainSize
	}
	rep := &DrainReport{}
	for i := 0; i < max; i++ {
		if err := ctx.Err(); err != nil {
			rep.Remaining = o.cfg.Queue.Size()
			return rep, err
		}
		msg, ok := o.cfg.Queue.Dequeue()
		if !ok {
			break
		}
		item := DrainItem{MessageID: msg.ID, LeadID: msg.LeadID}
		res, err := o.HandleInbound(ctx, msg)
		switch {
		case err != nil:
			item.Outcome = OutcomeFailed
			item.Error = err.Error()
		default:
			item.Outcome = res.Outcome
			item.Success = res.Success
			rep.Processed++
		}
		rep.Results = append(rep.Results, item)
	}
	rep.Remaining = o.cfg.Queue.Size()
	o.logger.Info("queue drained", "processed", rep.Processed, "attempted", len(rep.Results), "remaining", rep.Remaining)
	return rep, nil
}

type WorkerConfig struct {
	Orchestrator *Orchestrator
	Workers      int
	// IdlePoll bounds how long an idle worker waits before checking the queue.
	IdlePoll time.Duration
	Logger   *slog.Logger
}

// Worker drains the queue continuously with a fixed number of goroutines.
type Worker struct {
	orch    *Orchestrator
	workers int
	idle    time.Duration
	wake    chan struct{}
	logger  *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = defaultIdlePoll
	}
	return &Worker{
		orch:    cfg.Orchestrator,
		workers: cfg.Workers,
		idle:    cfg.IdlePoll,
		wake:    make(chan struct{}, 1),
		logger:  cfg.Logger,
	}
}

// Wake nudges an idle worker. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("queue workers started", "workers", w.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		id := i
		g.Go(func() error { return w.loop(ctx, id) })
	}
	err := g.Wait()
	w.logger.Info("queue workers stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	q := w.orch.Queue()
	timer := time.NewTimer(w.idle)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := q.Dequeue()
		if !ok {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.idle)
			select {
			case <-ctx.Done():
				return nil
			case <-w.wake:
			case <-timer.C:
			}
			continue
		}
		if _, err := w.orch.HandleInbound(ctx, msg); err != nil {
			w.logger.Error("queued message failed", "worker", id, "message", msg.ID, "lead", msg.LeadID, "err", err)
		}
	}
}
