package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/metrics"
)

// Async moves a slow sink (database, redis) off the request path. Records
// are queued and written by a single goroutine; when the queue is full the
// record is dropped with a warning. Records logged after Close are dropped
// the same way.
type Async struct {
	name    string
	next    Sink
	queue   chan *model.LogRecord
	timeout time.Duration
	log     *slog.Logger
	done    chan struct{}
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewAsync(name string, next Sink, queueSize int, log *slog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		name:    name,
		next:    next,
		queue:   make(chan *model.LogRecord, queueSize),
		timeout: 5 * time.Second,
		log:     log,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Log(_ context.Context, rec *model.LogRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.SinkDropped.WithLabelValues(a.name).Inc()
		a.log.Warn("⚠️ sink closed, dropping record", "sink", a.name)
		return nil
	}
	select {
	case a.queue <- rec:
	default:
		metrics.SinkDropped.WithLabelValues(a.name).Inc()
		a.log.Warn("⚠️ sink queue full, dropping record", "sink", a.name)
	}
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Log(ctx, rec); err != nil {
			a.log.Error("❌ failed to write record", "sink", a.name, "error", err)
		}
		cancel()
	}
}

// Close drains the queue and waits for the writer to finish.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		<-a.done
	})
}
