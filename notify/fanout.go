package notify

import (
	"errors"
	"sync"

	"vigil/correlate"
	"vigil/logger"
)

// Fanout hands each alert to every sink through a per-sink buffered
// queue with a dedicated writer goroutine, so one slow sink never stalls
// the scoring path or the other sinks. A full queue drops its oldest
// entry.
type Fanout struct {
	mu        sync.RWMutex
	closed    bool
	queues    []*sinkQueue
	wg        sync.WaitGroup
	queueSize int
	onError   func(sink string, err error)
}

type sinkQueue struct {
	sink Sink
	ch   chan correlate.Alert
}

type FanoutOption func(*Fanout)

// WithErrorHandler replaces the default log-only handler. The handler
// runs on the sink's writer goroutine.
func WithErrorHandler(fn func(sink string, err error)) FanoutOption {
	return func(f *Fanout) { f.onError = fn }
}

func NewFanout(queueSize int, opts ...FanoutOption) *Fanout {
	if queueSize <= 0 {
		queueSize = 1
	}
	f := &Fanout{
		queueSize: queueSize,
		onError: func(sink string, err error) {
			logger.Warnf("sink %s failed: %v", sink, err)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Add registers a sink and starts its writer. Adding after Close is a
// no-op.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	q := &sinkQueue{sink: s, ch: make(chan correlate.Alert, f.queueSize)}
	f.queues = append(f.queues, q)
	f.wg.Add(1)
	go f.run(q)
}

// Publish enqueues the alert for every sink without blocking. When a
// sink's queue is full the oldest queued alert is discarded to make
// room. Publishing after Close is a no-op.
func (f *Fanout) Publish(a correlate.Alert) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, q := range f.queues {
		select {
		case q.ch <- a:
			continue
		default:
		}
		select {
		case old := <-q.ch:
			logger.Debugf("sink %s queue full, dropped alert %s", q.sink.Name(), old.ID)
		default:
		}
		select {
		case q.ch <- a:
		default:
		}
	}
}

// Close drains every queue, waits for the writers to finish, and closes
// the sinks. Safe to call once.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, q := range f.queues {
		close(q.ch)
	}
	f.mu.Unlock()

	f.wg.Wait()

	var errs []error
	for _, q := range f.queues {
		if err := q.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) run(q *sinkQueue) {
	defer f.wg.Done()
	for a := range q.ch {
		if err := q.sink.Publish(a); err != nil {
			f.onError(q.sink.Name(), err)
		}
	}
}
