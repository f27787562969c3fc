package bot

import (
	"context"
	"sync"
)

type job func(ctx context.Context) error

// chatQueues runs jobs one at a time per chat, in arrival order. Different
// chats run concurrently. A worker goroutine exists only while its chat has
// pending jobs.
type chatQueues struct {
	mu      sync.Mutex
	pending map[int64][]queuedJob
	wg      sync.WaitGroup
	run     func(ctx context.Context, chatID int64, j job)
}

type queuedJob struct {
	ctx context.Context
	fn  job
}

func newChatQueues(run func(ctx context.Context, chatID int64, j job)) *chatQueues {
	return &chatQueues{pending: make(map[int64][]queuedJob), run: run}
}

// enqueue never blocks the caller.
func (q *chatQueues) enqueue(ctx context.Context, chatID int64, fn job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, active := q.pending[chatID]
	q.pending[chatID] = append(jobs, queuedJob{ctx: ctx, fn: fn})
	if !active {
		q.wg.Add(1)
		go q.drain(chatID)
	}
}

func (q *chatQueues) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[chatID]
		if len(jobs) == 0 {
			delete(q.pending, chatID)
			q.mu.Unlock()
			return
		}
		next := jobs[0]
		q.pending[chatID] = jobs[1:]
		q.mu.Unlock()

		q.run(next.ctx, chatID, next.fn)
	}
}

// idle reports whether no chat has queued or running jobs.
func (q *chatQueues) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

func (q *chatQueues) wait() {
	q.wg.Wait()
}
