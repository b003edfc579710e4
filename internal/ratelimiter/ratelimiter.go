// Package ratelimiter serializes outgoing calls behind a single FIFO
// processor so that adjacent completions are separated by at least a
// configured minimum interval, regardless of how many callers enqueue
// concurrently.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrygo/relaywatch/internal/logging"
)

// Task is the unit of work the limiter drains. Run is executed on the
// single processor goroutine; its error is returned to the enqueuing
// caller.
type Task struct {
	Run    func(ctx context.Context) error
	result chan error
}

// Limiter guards a buffered queue with a token-bucket limiter allowing
// exactly one token per minInterval, restarted each time a task
// completes, so the processor never starts a task until minInterval has
// elapsed since the previous one finished.
type Limiter struct {
	limiter *rate.Limiter
	queue   chan *Task
	log     *logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New starts the background processor goroutine and returns a Limiter
// ready to accept work. minInterval is the minimum spacing enforced
// between one task's completion and the start of the next; queueSize bounds how many
// pending tasks may be buffered before Enqueue blocks.
func New(minInterval time.Duration, queueSize int, log *logging.Logger) *Limiter {
	if queueSize <= 0 {
		queueSize = 64
	}
	l := &Limiter{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		queue:   make(chan *Task, queueSize),
		log:     log,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Enqueue blocks until fn has run (after waiting its turn in the
// queue and for the rate limiter to release a token) and returns
// fn's error. A failing task never blocks tasks enqueued after it;
// tasks run one at a time, so a slow task delays later ones until it
// returns.
func (l *Limiter) Enqueue(ctx context.Context, fn func(ctx context.Context) error) error {
	t := &Task{Run: fn, result: make(chan error, 1)}
	select {
	case l.queue <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}

func (l *Limiter) run() {
	ctx := context.Background()
	for {
		select {
		case t := <-l.queue:
			if err := l.limiter.Wait(ctx); err != nil {
				t.result <- err
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						if l.log != nil {
							l.log.Error("ratelimiter task panicked", "panic", r)
						}
						t.result <- context.Canceled
					}
				}()
				t.result <- t.Run(ctx)
			}()
			// Restart the interval from this task's completion.
			l.limiter = rate.NewLimiter(l.limiter.Limit(), 1)
			l.limiter.Allow()
		case <-l.done:
			return
		}
	}
}

// Close stops the processor goroutine. In-flight and queued tasks
// that have not yet run receive context.Canceled.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// QueueDepth reports how many tasks are currently buffered, for the
// rate_limiter_queue_depth gauge (§9).
func (l *Limiter) QueueDepth() int {
	return len(l.queue)
}
