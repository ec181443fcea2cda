package command

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrBusy is returned when the write queue is full.
var ErrBusy = errors.New("write queue is full")

type job struct {
	ctx  context.Context
	name string
	run  func(context.Context) error
	done func(error)
}

// Dispatcher runs store writes on a fixed worker pool so request handlers can
// return before the write completes. Each job gets a context that keeps the
// caller's values and trace but not its cancellation.
type Dispatcher struct {
	jobs    chan job
	workers int
	timeout time.Duration
	tracer  trace.Tracer
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(workers, queue int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		jobs:    make(chan job, queue),
		workers: workers,
		timeout: 10 * time.Second,
		tracer:  otel.Tracer("biztrack/command"),
		logger:  logger,
	}
}

// Start launches the workers. They exit after ctx ends and the queue drains.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case j := <-d.jobs:
					d.execute(j)
				case <-ctx.Done():
					d.drain()
					return
				}
			}
		}()
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case j := <-d.jobs:
			d.execute(j)
		default:
			return
		}
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Submit queues run. done, when non-nil, is called with the outcome on the
// worker goroutine.
func (d *Dispatcher) Submit(ctx context.Context, name string, run func(context.Context) error, done func(error)) error {
	j := job{ctx: context.WithoutCancel(ctx), name: name, run: run, done: done}
	select {
	case d.jobs <- j:
		return nil
	default:
		return ErrBusy
	}
}

func (d *Dispatcher) execute(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, j.name, trace.WithAttributes(attribute.String("biztrack.job", j.name)))
	defer span.End()

	start := time.Now()
	err := j.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.ErrorContext(ctx, "write failed", "job", j.name, "err", err, "duration_ms", time.Since(start).Milliseconds())
	} else {
		d.logger.DebugContext(ctx, "write completed", "job", j.name, "duration_ms", time.Since(start).Milliseconds())
	}
	if j.done != nil {
		j.done(err)
	}
}
