package workers

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"progression-engine/services"
)

var (
	ErrInboxFull        = errors.New("activity inbox full")
	ErrDispatcherClosed = errors.New("activity dispatcher closed")
)

// ActivityProcessor applies one activity event.
type ActivityProcessor interface {
	ProcessActivity(ctx context.Context, ev services.ActivityEvent) (*services.ActivityOutcome, error)
}

type activityResult struct {
	out *services.ActivityOutcome
	err error
}

type activityJob struct {
	ev   services.ActivityEvent
	done chan activityResult // nil for fire-and-forget
}

// ActivityDispatcher fans activity events out over a fixed set of shards.
// A user always hashes to the same shard, so their events are applied in
// submission order by a single goroutine.
type ActivityDispatcher struct {
	proc    ActivityProcessor
	shards  []chan activityJob
	metrics *services.Metrics
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewActivityDispatcher(proc ActivityProcessor, shards, inbox int, metrics *services.Metrics, log *slog.Logger) *ActivityDispatcher {
	if shards < 1 {
		shards = 1
	}
	if inbox < 1 {
		inbox = 1
	}
	if metrics == nil {
		metrics = services.NewMetrics(nil)
	}
	d := &ActivityDispatcher{
		proc:    proc,
		shards:  make([]chan activityJob, shards),
		metrics: metrics,
		log:     log.With("component", "dispatcher"),
	}
	for i := range d.shards {
		d.shards[i] = make(chan activityJob, inbox)
		d.wg.Add(1)
		go d.worker(i, d.shards[i])
	}
	return d
}

func (d *ActivityDispatcher) shardFor(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Submit queues ev without waiting for it to be applied.
func (d *ActivityDispatcher) Submit(ev services.ActivityEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.shards[d.shardFor(ev.UserID)] <- activityJob{ev: ev}:
		return nil
	default:
		d.metrics.ActivityDropped.Inc()
		return ErrInboxFull
	}
}

// SubmitWait queues ev and waits for its outcome. A full inbox fails fast like Submit.
func (d *ActivityDispatcher) SubmitWait(ctx context.Context, ev services.ActivityEvent) (*services.ActivityOutcome, error) {
	done := make(chan activityResult, 1)

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil, ErrDispatcherClosed
	}
	select {
	case d.shards[d.shardFor(ev.UserID)] <- activityJob{ev: ev, done: done}:
		d.mu.RUnlock()
	default:
		d.mu.RUnlock()
		d.metrics.ActivityDropped.Inc()
		return nil, ErrInboxFull
	}

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop rejects new events, drains the queued ones and waits for the shards to exit.
func (d *ActivityDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *ActivityDispatcher) worker(shard int, inbox <-chan activityJob) {
	defer d.wg.Done()
	for job := range inbox {
		out, err := d.proc.ProcessActivity(context.Background(), job.ev)
		if job.done != nil {
			job.done <- activityResult{out: out, err: err}
			continue
		}
		if err != nil {
			d.log.Warn("activity rejected", "shard", shard, "user_id", job.ev.UserID, "type", job.ev.Type, "error", err)
		}
	}
}
