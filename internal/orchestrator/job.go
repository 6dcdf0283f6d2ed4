package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/domain"
)

// Status is a point-in-time view of a job
type Status struct {
	ID              string          `json:"id"`
	State           domain.JobState `json:"state"`
	Total           int             `json:"total"`
	Dispatched      int             `json:"dispatched"`
	Completed       int             `json:"completed"`
	Failed          int             `json:"failed"`
	Progress        float64         `json:"progress"`
	CancelRequested bool            `json:"cancel_requested"`
	Artifact        string          `json:"artifact,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// Job is the handle of one batch run. All methods are safe for concurrent use.
//
// Records are appended by the job's collector goroutine only. Observers read
// them through a cursor so each notification is delivered at most once over
// the job's lifetime, even across reconnects.
type Job struct {
	ID        string
	CreatedAt time.Time

	spec JobSpec
	name string

	mu              sync.Mutex
	state           domain.JobState
	total           int
	dispatched      int
	failed          int
	records         []domain.Record
	cancelRequested bool
	stopDispatch    context.CancelFunc
	err             error
	finishedAt      time.Time
	changed         chan struct{}

	observing bool
	observed  bool
	cursor    int
	closed    bool

	done chan struct{}
}

func newJob(id string, spec JobSpec, name string, created time.Time) *Job {
	return &Job{
		ID:        id,
		CreatedAt: created,
		spec:      spec,
		name:      name,
		state:     domain.JobPending,
		total:     len(spec.Devices),
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// broadcast wakes every waiter. Callers hold j.mu.
func (j *Job) broadcast() {
	close(j.changed)
	j.changed = make(chan struct{})
}

// State returns the current lifecycle state
func (j *Job) State() domain.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the reason an errored job was rejected
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Name returns the artifact download name
func (j *Job) Name() string {
	return j.name
}

// Snapshot returns the job's current status
func (j *Job) Snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Status{
		ID:              j.ID,
		State:           j.state,
		Total:           j.total,
		Dispatched:      j.dispatched,
		Completed:       len(j.records),
		Failed:          j.failed,
		Progress:        fraction(len(j.records), j.total),
		CancelRequested: j.cancelRequested,
		CreatedAt:       j.CreatedAt,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	if j.state == domain.JobFinished || j.state == domain.JobCancelled {
		st.Artifact = j.name
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		st.FinishedAt = &t
	}
	return st
}

// Records returns a copy of the records collected so far
func (j *Job) Records() []domain.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Record(nil), j.records...)
}

// Artifact returns the frozen artifact once the job ran to a terminal state.
func (j *Job) Artifact() (*artifact.Artifact, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != domain.JobFinished && j.state != domain.JobCancelled {
		return nil, false
	}
	return &artifact.Artifact{
		JobID:     j.ID,
		Name:      j.name,
		CreatedAt: j.CreatedAt,
		Records:   append([]domain.Record(nil), j.records...),
	}, true
}

// Cancel stops further dispatch. In-flight device tasks finish and their
// records are kept. It returns false when the job already reached a terminal
// state or was already cancelled.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() || j.cancelRequested {
		return false
	}
	j.cancelRequested = true
	if j.stopDispatch != nil {
		j.stopDispatch()
	}
	j.broadcast()
	return true
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

// Done is closed when the job reaches a terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is terminal or ctx is done
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observed reports whether an observer ever attached
func (j *Job) Observed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.observed
}

// Observe attaches the single observer. The returned channel yields one
// notification per record in completion order, then a final notification,
// then closes. Cancelling ctx detaches the observer; a later Observe resumes
// after the last delivered notification. A second concurrent observer, or
// one arriving after the final notification was delivered, gets
// apperrors.ErrConflict.
func (j *Job) Observe(ctx context.Context) (<-chan domain.Notification, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, apperrors.Conflict("job", j.ID, "progress stream already delivered")
	}
	if j.observing {
		return nil, apperrors.Conflict("job", j.ID, "job already has an observer")
	}
	j.observing = true
	j.observed = true

	ch := make(chan domain.Notification)
	go j.deliver(ctx, ch)
	return ch, nil
}

func (j *Job) deliver(ctx context.Context, ch chan<- domain.Notification) {
	defer close(ch)
	for {
		j.mu.Lock()
		var n domain.Notification
		var pending bool
		switch {
		case j.cursor < len(j.records):
			rec := j.records[j.cursor]
			n = domain.Notification{
				Seq:       j.cursor + 1,
				Progress:  fraction(j.cursor+1, j.total),
				Record:    &rec,
				Completed: j.cursor + 1,
				Total:     j.total,
			}
			pending = true
		case j.state.Terminal():
			n = j.finalNotification()
			pending = true
		}
		wait := j.changed
		j.mu.Unlock()

		if !pending {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				j.detach()
				return
			}
		}

		select {
		case ch <- n:
			j.mu.Lock()
			if n.Final {
				j.closed = true
				j.observing = false
				j.mu.Unlock()
				return
			}
			j.cursor++
			j.mu.Unlock()
		case <-ctx.Done():
			j.detach()
			return
		}
	}
}

func (j *Job) detach() {
	j.mu.Lock()
	j.observing = false
	j.mu.Unlock()
}

// finalNotification closes the stream. Callers hold j.mu.
func (j *Job) finalNotification() domain.Notification {
	n := domain.Notification{
		Seq:       len(j.records) + 1,
		Progress:  fraction(len(j.records), j.total),
		Final:     true,
		State:     j.state,
		Completed: len(j.records),
		Total:     j.total,
	}
	if j.state != domain.JobErrored {
		n.Artifact = j.name
	}
	return n
}

func (j *Job) setRunning(stop context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = domain.JobRunning
	j.stopDispatch = stop
	j.broadcast()
}

func (j *Job) markDispatched() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dispatched++
}

// appendRecord is called by the collector goroutine only.
func (j *Job) appendRecord(rec domain.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	if rec.Failed() {
		j.failed++
	}
	j.broadcast()
}

// finish moves the job to its terminal state after every dispatched task reported.
// Any accepted cancel ends the job as cancelled, even one that arrived after the
// last dispatch.
func (j *Job) finish(at time.Time) domain.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelRequested || j.dispatched < j.total {
		j.state = domain.JobCancelled
	} else {
		j.state = domain.JobFinished
	}
	j.finishedAt = at
	j.broadcast()
	close(j.done)
	return j.state
}

func (j *Job) fail(err error, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = domain.JobErrored
	j.err = err
	j.finishedAt = at
	j.broadcast()
	close(j.done)
}

func fraction(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total)
}
