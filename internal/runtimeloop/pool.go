package runtimeloop

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// WorkerStatus mirrors the teacher's idle/working worker health states.
type WorkerStatus string

// Worker statuses.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	IterationsHandled int          `json:"iterations_handled"`
	LastActivity      time.Time    `json:"last_activity"`
}

// PoolHealth is the Fleet Controller's `GET /fleet/health` payload shape,
// modeled on the teacher's pkg/queue/pool.go Health().
type PoolHealth struct {
	IsHealthy    bool           `json:"is_healthy"`
	Recipient    string         `json:"recipient"`
	WorkerStats  []WorkerHealth `json:"worker_stats"`
}

// Pool runs a fixed number of worker goroutines, each independently calling
// Loop.RunIteration in a poll cycle with jittered backoff when the mailbox
// is empty — grounded on the teacher's WorkerPool/Worker split
// (pkg/queue/pool.go, pkg/queue/worker.go), generalized from a DB-claim
// loop to a mailbox-read loop.
type Pool struct {
	Loop         *Loop
	WorkerCount  int
	PollInterval time.Duration
	PollJitter   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	group    *errgroup.Group

	mu      sync.RWMutex
	workers []*poolWorker
	started bool
}

type poolWorker struct {
	id string

	mu                sync.Mutex
	status            WorkerStatus
	iterationsHandled int
	lastActivity      time.Time
}

func (w *poolWorker) health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{ID: w.id, Status: w.status, IterationsHandled: w.iterationsHandled, LastActivity: w.lastActivity}
}

func (w *poolWorker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// Start spawns WorkerCount goroutines via an errgroup, each polling
// Loop.RunIteration. Safe to call once; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})

	group, gctx := errgroup.WithContext(ctx)
	p.group = group

	count := p.WorkerCount
	if count <= 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		w := &poolWorker{id: fmt.Sprintf("%s-worker-%d", p.Loop.Profile.Recipient, i), status: WorkerStatusIdle, lastActivity: time.Now()}
		p.workers = append(p.workers, w)
		p.group.Go(func() error {
			p.runWorker(gctx, w)
			return nil
		})
	}
}

// Stop signals all workers to stop and waits for the errgroup to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.stopCh != nil {
			close(p.stopCh)
		}
	})
	if p.group != nil {
		_ = p.group.Wait()
	}
}

// Health reports the pool's aggregate and per-worker status.
func (p *Pool) Health() PoolHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := make([]WorkerHealth, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.health()
	}
	return PoolHealth{IsHealthy: p.started, Recipient: p.Loop.Profile.Recipient, WorkerStats: stats}
}

func (p *Pool) runWorker(ctx context.Context, w *poolWorker) {
	log := slog.With("worker_id", w.id)
	log.Info("runtime loop worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("runtime loop worker stopping")
			return
		case <-ctx.Done():
			log.Info("runtime loop worker context cancelled")
			return
		default:
		}

		w.setStatus(WorkerStatusWorking)
		n, err := p.Loop.RunIteration(ctx)
		w.setStatus(WorkerStatusIdle)
		if err != nil {
			log.Error("runtime loop iteration failed", "error", err)
			p.sleep(time.Second)
			continue
		}

		w.mu.Lock()
		w.iterationsHandled++
		w.mu.Unlock()

		if n == 0 {
			p.sleep(p.pollInterval())
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the base poll interval with symmetric jitter, the
// same jittered-backoff shape as the teacher's Worker.pollInterval().
func (p *Pool) pollInterval() time.Duration {
	base := p.PollInterval
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	jitter := p.PollJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
