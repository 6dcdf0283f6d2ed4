package api

import (
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Diegomcha/netquery/internal/orchestrator"
)

// registry bounds how many jobs the server tracks and for how long.
// An entry leaves after ttl or when capacity pushes it out. A job that
// nobody ever observed is cancelled on the way out, since no client is
// left to watch it; finished artifacts stay downloadable from the store.
// An observed job that is still running stays known to the orchestrator
// until it ends, so its client keeps the stop control.
type registry struct {
	jobs   *expirable.LRU[string, *orchestrator.Job]
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func newRegistry(orch *orchestrator.Orchestrator, size int, ttl time.Duration, logger *slog.Logger) *registry {
	r := &registry{orch: orch, logger: logger}
	r.jobs = expirable.NewLRU[string, *orchestrator.Job](size, r.evicted, ttl)
	return r
}

func (r *registry) add(job *orchestrator.Job) {
	r.jobs.Add(job.ID, job)
}

// get falls back to the orchestrator for jobs that left the LRU but are
// not forgotten yet.
func (r *registry) get(id string) (*orchestrator.Job, error) {
	if job, ok := r.jobs.Get(id); ok {
		return job, nil
	}
	return r.orch.Job(id)
}

func (r *registry) len() int {
	return r.jobs.Len()
}

// evicted runs under the LRU's lock and must not call back into it.
func (r *registry) evicted(id string, job *orchestrator.Job) {
	if !job.Observed() {
		if job.Cancel() {
			r.logger.Info("cancelled unobserved job", "job", id)
		}
		r.orch.Forget(id)
		return
	}
	if job.State().Terminal() {
		r.orch.Forget(id)
		return
	}

	r.logger.Debug("keeping observed job until it ends", "job", id)
	go func() {
		<-job.Done()
		r.orch.Forget(id)
	}()
}
