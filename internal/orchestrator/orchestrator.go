// Package orchestrator fans a command set out over many devices with a
// bounded worker pool and streams per-device results as they complete.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/domain"
	"github.com/Diegomcha/netquery/internal/executor"
	"github.com/Diegomcha/netquery/internal/observability"
	"github.com/Diegomcha/netquery/internal/session"
)

// DefaultWorkers is the pool size when none is configured
const DefaultWorkers = 8

// JobSpec describes one batch run
type JobSpec struct {
	Devices  []domain.Device
	Commands []string
	// Expect is empty or holds one prompt pattern per command.
	Expect      []string
	OutputRegex string
	// AccessCheck only verifies that a session can be opened; Commands must be empty.
	AccessCheck bool
	Credentials session.Credentials
	// Workers overrides the orchestrator's pool size when positive.
	Workers int
}

// Runner executes one device task. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, task executor.Task) domain.Record
}

// Config configures an Orchestrator
type Config struct {
	Runner  Runner
	Workers int
	// Store receives every artifact of a job that ran. Optional.
	Store   artifact.Store
	Metrics *observability.Metrics
	Logger  *slog.Logger
	// Now is overridable for tests
	Now func() time.Time
}

// Orchestrator owns jobs from submission until they are forgotten.
type Orchestrator struct {
	runner  Runner
	workers int
	store   artifact.Store
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	jobs     map[string]*Job
	inFlight map[string]int
}

// New creates an orchestrator. Close it to abort running device tasks.
func New(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		runner:   cfg.Runner,
		workers:  workers,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*Job),
		inFlight: make(map[string]int),
	}
}

// Validate checks spec and compiles its output regex.
func (spec JobSpec) Validate() (*regexp.Regexp, error) {
	if len(spec.Devices) == 0 {
		return nil, apperrors.InvalidJobSpec("devices", "no devices selected")
	}
	seen := make(map[string]bool, len(spec.Devices))
	for _, d := range spec.Devices {
		if strings.TrimSpace(d.Address) == "" {
			return nil, apperrors.InvalidJobSpec("devices", fmt.Sprintf("device %q has no address", d.Label))
		}
		if seen[d.Key()] {
			return nil, apperrors.InvalidJobSpec("devices", fmt.Sprintf("device %s listed twice", d))
		}
		seen[d.Key()] = true
	}

	if spec.AccessCheck {
		if len(spec.Commands) > 0 {
			return nil, apperrors.InvalidJobSpec("commands", "an access check takes no commands")
		}
	} else {
		if len(spec.Commands) == 0 {
			return nil, apperrors.InvalidJobSpec("commands", "no commands given")
		}
		for i, cmd := range spec.Commands {
			if strings.TrimSpace(cmd) == "" {
				return nil, apperrors.InvalidJobSpec("commands", fmt.Sprintf("command %d is empty", i+1))
			}
		}
	}

	if len(spec.Expect) > 0 && len(spec.Expect) != len(spec.Commands) {
		return nil, apperrors.InvalidJobSpec("expect",
			fmt.Sprintf("got %d prompt patterns for %d commands", len(spec.Expect), len(spec.Commands)))
	}
	for i, p := range spec.Expect {
		if _, err := regexp.Compile(p); err != nil {
			return nil, apperrors.InvalidJobSpec("expect", fmt.Sprintf("prompt pattern %d: %v", i+1, err))
		}
	}

	if spec.Workers < 0 {
		return nil, apperrors.InvalidJobSpec("workers", "worker count cannot be negative")
	}

	if spec.OutputRegex == "" {
		return nil, nil
	}
	re, err := regexp.Compile(spec.OutputRegex)
	if err != nil {
		return nil, apperrors.InvalidJobSpec("output_regex", err.Error())
	}
	return re, nil
}

// Start validates spec, registers a job and begins dispatching. An invalid
// spec returns an apperrors.ErrInvalidJobSpec error and registers nothing.
func (o *Orchestrator) Start(ctx context.Context, spec JobSpec) (*Job, error) {
	filter, err := spec.Validate()
	if err != nil {
		return nil, err
	}
	job := o.register(spec)
	o.launch(job, filter)
	return job, nil
}

// Submit is Start for callers that need a handle even for rejected specs:
// an invalid spec yields a registered job already in the errored state.
func (o *Orchestrator) Submit(ctx context.Context, spec JobSpec) *Job {
	filter, err := spec.Validate()
	job := o.register(spec)
	if err != nil {
		job.fail(err, o.now())
		o.metrics.RecordJobRejected(ctx)
		o.logger.Info("job rejected", "job", job.ID, "error", err)
		return job
	}
	o.launch(job, filter)
	return job
}

func (o *Orchestrator) register(spec JobSpec) *Job {
	created := o.now()
	job := newJob(uuid.NewString(), spec, artifact.DownloadName(spec.Commands, spec.AccessCheck, created), created)

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()
	return job
}

func (o *Orchestrator) launch(job *Job, filter *regexp.Regexp) {
	dispatchCtx, stop := context.WithCancel(o.ctx)
	job.setRunning(stop)
	o.wg.Add(1)
	go o.run(job, filter, dispatchCtx, stop)
}

// Job looks up a registered job
func (o *Orchestrator) Job(id string) (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return job, nil
}

// Cancel stops dispatch for job id. It is idempotent and has no effect on
// jobs that already reached a terminal state.
func (o *Orchestrator) Cancel(id string) error {
	job, err := o.Job(id)
	if err != nil {
		return err
	}
	if job.Cancel() {
		o.logger.Info("job cancel requested", "job", id)
	}
	return nil
}

// Observe attaches the observer of job id; see Job.Observe.
func (o *Orchestrator) Observe(ctx context.Context, id string) (<-chan domain.Notification, error) {
	job, err := o.Job(id)
	if err != nil {
		return nil, err
	}
	return job.Observe(ctx)
}

// Forget drops job id from the registry. A running job keeps running.
func (o *Orchestrator) Forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.jobs, id)
}

// Close aborts running device tasks and waits for every job to finish.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

type outcome struct {
	rec      domain.Record
	duration time.Duration
}

func (o *Orchestrator) run(job *Job, filter *regexp.Regexp, dispatchCtx context.Context, stop context.CancelFunc) {
	defer o.wg.Done()
	defer stop()

	spec := job.spec
	logger := o.logger.With("job", job.ID)
	started := o.now()
	o.metrics.RecordJobStarted(o.ctx)

	workers := o.workers
	if spec.Workers > 0 {
		workers = spec.Workers
	}
	pool := NewPool(workers)
	pool.SetOnSlotsChanged(func(n int) { o.trackInFlight(job.ID, n) })

	logger.Info("job started", "devices", len(spec.Devices), "commands", len(spec.Commands), "workers", pool.Size())

	results := make(chan outcome)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range results {
			job.appendRecord(res.rec)
			o.metrics.RecordDeviceTask(o.ctx, string(res.rec.Status), res.duration.Seconds())
		}
	}()

	var wg sync.WaitGroup
	for _, d := range spec.Devices {
		if job.isCancelled() {
			break
		}
		if err := pool.Acquire(dispatchCtx); err != nil {
			break
		}
		if job.isCancelled() {
			pool.Release()
			break
		}
		job.markDispatched()

		task := executor.Task{
			Device:      d,
			Commands:    spec.Commands,
			Expect:      spec.Expect,
			OutputRegex: filter,
			AccessCheck: spec.AccessCheck,
			Credentials: spec.Credentials,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pool.Release()
			start := time.Now()
			rec := o.runTask(task)
			results <- outcome{rec: rec, duration: time.Since(start)}
		}()
	}

	wg.Wait()
	close(results)
	<-collected
	o.trackInFlight(job.ID, -1)

	// Stored before the final notification goes out so a download that
	// follows the terminal frame finds it. Retention counts from completion.
	finished := o.now()
	o.persist(&artifact.Artifact{
		JobID:     job.ID,
		Name:      job.Name(),
		CreatedAt: finished,
		Records:   job.Records(),
	}, logger)

	state := job.finish(finished)
	o.metrics.RecordJobFinished(o.ctx, string(state), o.now().Sub(started).Seconds())
	st := job.Snapshot()
	logger.Info("job done", "state", state, "completed", st.Completed, "failed", st.Failed, "total", st.Total)
}

// runTask guarantees one record per dispatched task, even if the runner panics.
func (o *Orchestrator) runTask(task executor.Task) (rec domain.Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = domain.NewRecord(task.Device)
			rec.Status = domain.StatusFailure
			rec.Result = domain.ResultException
			rec.Log = fmt.Sprintf("[exception] panic: %v\n", r)
		}
	}()
	return o.runner.Run(o.ctx, task)
}

func (o *Orchestrator) persist(a *artifact.Artifact, logger *slog.Logger) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.Put(ctx, a); err != nil {
		logger.Error("storing artifact", "artifact", a.Name, "error", err)
	}
}

// trackInFlight sums open sessions across jobs; n < 0 drops the job.
func (o *Orchestrator) trackInFlight(jobID string, n int) {
	o.mu.Lock()
	if n < 0 {
		delete(o.inFlight, jobID)
	} else {
		o.inFlight[jobID] = n
	}
	total := 0
	for _, v := range o.inFlight {
		total += v
	}
	o.mu.Unlock()
	o.metrics.RecordSessionsInFlight(o.ctx, int64(total))
}
