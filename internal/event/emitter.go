package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ljramones/lore-ingestor/internal/logging"
)

const (
	emitterQueueSize = 256
	deliverTimeout   = 10 * time.Second
)

// Emitter fans records out to a sink set from a single drain goroutine.
// Publish never blocks: a full buffer drops the record and counts it.
// Close must follow the last Publish; producers stop before the emitter.
type Emitter struct {
	sinks     []Sink
	queue     chan Record
	logger    *slog.Logger
	wg        sync.WaitGroup
	dropped   atomic.Int64
	closeOnce sync.Once
}

// NewEmitter starts the drain goroutine over sinks.
func NewEmitter(sinks []Sink, logger *slog.Logger) *Emitter {
	e := &Emitter{
		sinks:  sinks,
		queue:  make(chan Record, emitterQueueSize),
		logger: logging.Default(logger).With("component", "event"),
	}
	e.wg.Go(e.drain)
	return e
}

func (e *Emitter) drain() {
	for r := range e.queue {
		e.deliver(r)
	}
}

func (e *Emitter) deliver(r Record) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	for _, sink := range e.sinks {
		if err := sink.Emit(ctx, r); err != nil {
			e.logger.Error("event.emit.error", "sink", sink.Name(), "error", err)
		}
	}
}

// Publish enqueues a record for delivery without blocking.
func (e *Emitter) Publish(r Record) {
	select {
	case e.queue <- r:
	default:
		e.dropped.Add(1)
		e.logger.Warn("event.queue.full", "type", r["type"])
	}
}

// Dropped reports how many records were discarded on a full queue.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close drains pending records, then closes every sink.
func (e *Emitter) Close() error {
	e.closeOnce.Do(func() {
		close(e.queue)
		e.wg.Wait()
		for _, sink := range e.sinks {
			if err := sink.Close(); err != nil {
				e.logger.Warn("event.sink.close.error", "sink", sink.Name(), "error", err)
			}
		}
	})
	return nil
}
