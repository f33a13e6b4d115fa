// Package buildqueue runs deployment jobs one at a time. Runs against the
// same web app would race on the force-push, so the server never runs two
// at once.
package buildqueue

import (
	"context"
	"log/slog"
	"sync"
)

type Job struct {
	RunID string
	Fn    func(ctx context.Context) error
}

type Queue struct {
	ch     chan Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func New(bufSize int) *Queue {
	return &Queue{
		ch: make(chan Job, bufSize),
	}
}

func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case job, ok := <-q.ch:
				if !ok {
					return
				}
				slog.Info("buildqueue: starting job", "run", job.RunID)
				if err := job.Fn(ctx); err != nil {
					slog.Warn("buildqueue: job failed", "run", job.RunID, "err", err)
				} else {
					slog.Info("buildqueue: job completed", "run", job.RunID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Enqueue adds job without blocking. It reports false when the queue is full.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.ch <- job:
		return true
	default:
		return false
	}
}

// Len is the number of jobs waiting to start.
func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Stop() {
	q.once.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		close(q.ch)
	})
	q.wg.Wait()
}
