package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-cloudtasks-emulator/metrics"
	"go-cloudtasks-emulator/model"
)

type TaskStore interface {
	Put(task *model.Task)
}

// Limiter gates attempts per queue. Queue-less tasks pass an empty id.
type Limiter interface {
	Wait(ctx context.Context, queueID string) error
}

type Recorder interface {
	RecordAttempt(ctx context.Context, task *model.Task, outcome model.Outcome, elapsed time.Duration) error
}

type Options struct {
	Backoff         Backoff
	Limiter         Limiter
	Recorder        Recorder
	EnforceDeadline bool
	Logger          *zap.Logger
	Now             func() time.Time
}

// Dispatcher runs one loop per task. Each loop is the only writer of its
// task; the store only ever sees copies.
type Dispatcher struct {
	store     TaskStore
	deliverer model.Deliverer
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

func New(store TaskStore, deliverer model.Deliverer, opts Options) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		deliverer: deliverer,
		opts:      opts,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.opts.Backoff.Initial <= 0 {
		d.opts.Backoff.Initial = DefaultInitialBackoff
	}
	return d
}

// Dispatch starts the task's loop and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, task *model.Task) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(ctx, task)
	}()
}

// Wait blocks until every started loop has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run drives the task to a terminal state and writes it to the store.
// Cancelling ctx stops the loop early; the store then keeps the last
// progress written.
func (d *Dispatcher) Run(ctx context.Context, task *model.Task) model.State {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	queue := metrics.QueueLabel(task.QueueID)
	log := d.logger.With(zap.String("task", task.ID), zap.String("queue", queue))

	if err := sleep(ctx, task.ScheduleTime.Sub(d.now())); err != nil {
		log.Info("dispatch stopped before first attempt", zap.Error(err))
		return task.State
	}

	policy := d.opts.Backoff.policy()
	for {
		if d.opts.EnforceDeadline && task.DeadlinePassed(d.now()) {
			task.Expire(model.ErrDeadlineExceeded, d.now())
			log.Warn("dispatch deadline exceeded", zap.Int("dispatch_count", task.DispatchCount))
			break
		}

		if d.opts.Limiter != nil {
			if err := d.opts.Limiter.Wait(ctx, task.QueueID); err != nil {
				if ctx.Err() != nil {
					log.Info("dispatch stopped", zap.Error(err))
					return task.State
				}
				log.Warn("rate limiter unavailable, dispatching anyway", zap.Error(err))
			}
		}

		outcome := d.attempt(ctx, task, log)
		if outcome.Terminal() {
			break
		}
		d.store.Put(task)
		if outcome == model.OutcomeInterrupted {
			log.Info("dispatch stopped during attempt", zap.Int("dispatch_count", task.DispatchCount))
			return task.State
		}

		delay := policy.NextBackOff()
		log.Debug("retry scheduled",
			zap.Duration("delay", delay),
			zap.Int("remaining_tries", task.RemainingTries()))
		if err := sleep(ctx, delay); err != nil {
			log.Info("dispatch stopped", zap.Error(err))
			return task.State
		}
	}

	d.store.Put(task)
	metrics.TasksCompletedTotal.WithLabelValues(queue, string(task.State)).Inc()
	if task.State == model.StateSucceeded {
		log.Info("task succeeded", zap.Int("dispatch_count", task.DispatchCount))
	} else {
		log.Warn("task exhausted",
			zap.Int("dispatch_count", task.DispatchCount),
			zap.Int("response_count", task.ResponseCount),
			zap.String("last_error", task.LastError))
	}
	return task.State
}

func (d *Dispatcher) attempt(ctx context.Context, task *model.Task, log *zap.Logger) model.Outcome {
	queue := metrics.QueueLabel(task.QueueID)
	responses := task.ResponseCount

	started := time.Now()
	outcome := task.Attempt(ctx, d.deliverer, d.now)
	elapsed := time.Since(started)

	metrics.AttemptDurationSeconds.WithLabelValues(queue).Observe(elapsed.Seconds())
	switch {
	case outcome == model.OutcomeInterrupted:
		metrics.AttemptsTotal.WithLabelValues(queue, "interrupted").Inc()
	case task.ResponseCount == responses:
		metrics.AttemptsTotal.WithLabelValues(queue, "transport_error").Inc()
		log.Warn("delivery failed",
			zap.Int("dispatch_count", task.DispatchCount),
			zap.String("error", task.LastError))
	case outcome == model.OutcomeSucceeded:
		metrics.AttemptsTotal.WithLabelValues(queue, "success").Inc()
		log.Debug("delivered", zap.Int("status", task.LastAttempt.Status))
	default:
		metrics.AttemptsTotal.WithLabelValues(queue, "http_error").Inc()
		log.Warn("task responded with error",
			zap.Int("status", task.LastAttempt.Status),
			zap.Int("dispatch_count", task.DispatchCount))
	}

	if d.opts.Recorder != nil {
		if err := d.opts.Recorder.RecordAttempt(context.WithoutCancel(ctx), task, outcome, elapsed); err != nil {
			log.Error("record attempt", zap.Error(err))
		}
	}
	return outcome
}

func sleep(ctx context.Context, d time.Duration) error {
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
