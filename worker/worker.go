// Package worker runs classification requests one at a time against a
// pipeline.Cache, streaming progress and results back to the submitter.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/krau/konaclassify/pipeline"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrClosed    = errors.New("worker is closed")
)

// progress events are dropped rather than block the worker on a slow reader
const replyBuffer = 64

type job struct {
	ctx   context.Context
	req   Request
	reply chan Message
}

type Worker struct {
	cache *pipeline.Cache
	queue chan job

	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	done    chan struct{}
}

func New(cache *pipeline.Cache, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Worker{
		cache: cache,
		queue: make(chan job, queueSize),
		done:  make(chan struct{}),
	}
}

// Submit enqueues req. The returned channel yields its messages and is closed
// after the final one. A request without an ID gets a fresh one.
func (w *Worker) Submit(ctx context.Context, req Request) (<-chan Message, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	j := job{ctx: ctx, req: req, reply: make(chan Message, replyBuffer)}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrClosed
	}
	select {
	case w.queue <- j:
		return j.reply, nil
	default:
		return nil, ErrQueueFull
	}
}

// Run processes requests until ctx ends or Close is called. When ctx ends,
// requests still queued are answered with ErrClosed; after Close they are
// processed before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.started.Store(true)
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.stop()
			for j := range w.queue {
				finish(j, errorMessage(j.req.ID, ErrClosed))
			}
			return
		case j, ok := <-w.queue:
			if !ok {
				return
			}
			w.handle(j)
		}
	}
}

// Close stops accepting requests and waits for a running Run to return.
// Without a running Run, queued requests are answered with ErrClosed.
func (w *Worker) Close() {
	w.stop()
	if w.started.Load() {
		<-w.done
		return
	}
	for j := range w.queue {
		finish(j, errorMessage(j.req.ID, ErrClosed))
	}
}

func (w *Worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
}

func (w *Worker) handle(j job) {
	id := j.req.ID
	if err := j.ctx.Err(); err != nil {
		finish(j, errorMessage(id, err))
		return
	}

	logger := slog.With(slog.String("request", id))
	relay := func(p pipeline.Progress) {
		select {
		case j.reply <- progressMessage(id, p):
		default:
			logger.Debug("Dropped progress event", slog.String("status", p.Status))
		}
	}

	inst, err := w.cache.Get(j.ctx, j.req.Config(), relay)
	if err != nil {
		logger.Error("Failed to get pipeline", slog.String("error", err.Error()))
		finish(j, errorMessage(id, err))
		return
	}

	output, err := inst.Classify(j.ctx, j.req.Input)
	if err != nil {
		logger.Error("Classification failed", slog.String("error", err.Error()))
		finish(j, errorMessage(id, err))
		return
	}
	logger.Info("Completed", slog.Int("predictions", len(output)))
	finish(j, Message{ID: id, Status: StatusComplete, Output: output})
}

// finish delivers the final message, waiting for room if progress filled the
// buffer, unless the submitter has gone away.
func finish(j job, m Message) {
	select {
	case j.reply <- m:
	default:
		select {
		case j.reply <- m:
		case <-j.ctx.Done():
		}
	}
	close(j.reply)
}

func errorMessage(id string, err error) Message {
	return Message{ID: id, Status: StatusError, Error: err.Error()}
}
