package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Job is a handle on one launched ingestion pipeline.
type Job struct {
	ID       uuid.UUID
	BagID    int64
	Pipeline *Pipeline
	cancel   context.CancelFunc
}

// Cancel requests a cooperative abort. The pipeline observes it between
// topics and resolves to Failed with a cancelled reason.
func (j *Job) Cancel() {
	j.cancel()
}

// Manager launches ingestion pipelines with a bounded concurrent-bag
// count. Each pipeline owns its own progress record; the manager only
// retains the handles, there is no shared mutable status map.
type Manager struct {
	mu   sync.Mutex
	jobs map[int64]*Job
	pool *pool.Pool
}

// NewManager bounds concurrent bag ingestion to maxConcurrent pipelines.
func NewManager(maxConcurrent int) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Manager{
		jobs: make(map[int64]*Job),
		pool: pool.New().WithMaxGoroutines(maxConcurrent),
	}
}

// Launch queues a pipeline for execution and returns its job handle.
// Pipelines for different bags share no mutable state.
func (m *Manager) Launch(ctx context.Context, p *Pipeline) *Job {
	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:       uuid.New(),
		BagID:    p.opts.BagID,
		Pipeline: p,
		cancel:   cancel,
	}

	m.mu.Lock()
	m.jobs[job.BagID] = job
	m.mu.Unlock()

	m.pool.Go(func() {
		defer cancel()
		p.Run(jobCtx)
	})
	return job
}

// Job looks up the handle for a bag, if one was launched.
func (m *Manager) Job(bagID int64) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[bagID]
	return job, ok
}

// Status returns a copy of the bag's current progress, if a job exists.
func (m *Manager) Status(bagID int64) (Progress, bool) {
	job, ok := m.Job(bagID)
	if !ok {
		return Progress{}, false
	}
	return job.Pipeline.Status(), true
}

// Cancel aborts the bag's pipeline if it is known. Reports whether a job
// was found.
func (m *Manager) Cancel(bagID int64) bool {
	job, ok := m.Job(bagID)
	if ok {
		job.Cancel()
	}
	return ok
}

// Wait blocks until every launched pipeline has reached a terminal state.
func (m *Manager) Wait() {
	m.pool.Wait()
}
