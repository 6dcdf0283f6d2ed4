package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/domain"
	"github.com/Diegomcha/netquery/internal/executor"
)

// fakeRunner records concurrency and answers from a table
type fakeRunner struct {
	mu      sync.Mutex
	active  int
	peak    int
	started chan string
	gate    chan struct{}
	fail    map[string]string
	panicOn string
	// hold keeps a device's task open until its channel is closed
	hold map[string]chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, task executor.Task) domain.Record {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	addr := task.Device.Address
	if r.started != nil {
		r.started <- addr
	}
	if r.gate != nil {
		<-r.gate
	}
	if h, ok := r.hold[addr]; ok {
		<-h
	}
	if addr == r.panicOn {
		panic("boom")
	}

	rec := domain.NewRecord(task.Device)
	if result, ok := r.fail[addr]; ok {
		rec.Status = domain.StatusFailure
		rec.Result = result
		return rec
	}
	rec.Status = domain.StatusSuccess
	rec.Result = "ok " + addr
	return rec
}

func devices(n int) []domain.Device {
	devs := make([]domain.Device, n)
	for i := range devs {
		addr := fmt.Sprintf("10.0.0.%d", i+1)
		devs[i] = domain.Device{File: "lab.json", Group: "core", Label: addr, Address: addr, DeviceType: "cisco_ios"}
	}
	return devs
}

// collect drains an observation channel, failing the test if it stalls
func collect(t *testing.T, ch <-chan domain.Notification) []domain.Notification {
	t.Helper()
	var out []domain.Notification
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, n)
		case <-timeout:
			t.Fatalf("stream stalled after %d notifications", len(out))
		}
	}
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
}

func TestStart_OneDeviceTimesOut(t *testing.T) {
	runner := &fakeRunner{fail: map[string]string{"10.0.0.2": domain.ResultTimeout}}
	store := artifact.NewMemoryStore()
	o := New(Config{Runner: runner, Workers: 3, Store: store})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(3), Commands: []string{"show version"}})
	if err != nil {
		t.Fatal(err)
	}
	notes := collect(t, mustObserve(t, job))

	if len(notes) != 4 {
		t.Fatalf("got %d notifications, want 3 records + final", len(notes))
	}
	final := notes[3]
	if !final.Final || final.State != domain.JobFinished {
		t.Errorf("final = %+v, want finished", final)
	}
	if final.Artifact != job.Name() || final.Artifact == "" {
		t.Errorf("final artifact = %q, want %q", final.Artifact, job.Name())
	}
	if final.Progress != 1 {
		t.Errorf("final progress = %v, want 1", final.Progress)
	}

	failures := 0
	for _, n := range notes[:3] {
		if n.Record.Failed() {
			failures++
			if n.Record.Address != "10.0.0.2" || n.Record.Result != domain.ResultTimeout {
				t.Errorf("unexpected failure %+v", n.Record)
			}
		}
	}
	if failures != 1 {
		t.Errorf("got %d failures, want 1", failures)
	}

	st := job.Snapshot()
	if st.Completed != 3 || st.Failed != 1 || st.State != domain.JobFinished {
		t.Errorf("snapshot = %+v", st)
	}

	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("artifact not stored: %v", err)
	}
	if len(stored.Records) != 3 || stored.Name != job.Name() {
		t.Errorf("stored artifact = %d records named %q", len(stored.Records), stored.Name)
	}
}

func TestStart_NotifiesInCompletionOrder(t *testing.T) {
	slow := make(chan struct{})
	runner := &fakeRunner{hold: map[string]chan struct{}{"10.0.0.1": slow}}
	store := artifact.NewMemoryStore()
	o := New(Config{Runner: runner, Workers: 3, Store: store})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(3), Commands: []string{"show version"}})
	if err != nil {
		t.Fatal(err)
	}
	ch := mustObserve(t, job)

	// The first inventory device stays open until both others reported.
	var notes []domain.Notification
	for len(notes) < 2 {
		select {
		case n := <-ch:
			notes = append(notes, n)
		case <-time.After(5 * time.Second):
			t.Fatalf("got %d notifications before the first device finished, want 2", len(notes))
		}
	}
	close(slow)
	notes = append(notes, collect(t, ch)...)

	if len(notes) != 4 || !notes[3].Final {
		t.Fatalf("got %d notifications, want 3 records + final", len(notes))
	}
	if notes[0].Record.Address == "10.0.0.1" {
		t.Error("first notification is the first inventory device, want the first one to complete")
	}
	if notes[2].Record.Address != "10.0.0.1" {
		t.Errorf("last record = %s, want 10.0.0.1", notes[2].Record.Address)
	}

	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("artifact not stored: %v", err)
	}
	for i, rec := range stored.Records {
		if rec.Address != notes[i].Record.Address {
			t.Errorf("artifact row %d = %s, notification %d = %s", i, rec.Address, i, notes[i].Record.Address)
		}
	}
}

func TestStart_StoredArtifactStampedAtCompletion(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}
	store := artifact.NewMemoryStore()
	o := New(Config{Runner: &fakeRunner{}, Workers: 2, Store: store, Now: now})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(2), Commands: []string{"show clock"}})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("artifact not stored: %v", err)
	}
	st := job.Snapshot()
	if st.FinishedAt == nil || !stored.CreatedAt.Equal(*st.FinishedAt) {
		t.Errorf("stored at %v, job finished at %v", stored.CreatedAt, st.FinishedAt)
	}
	if !stored.CreatedAt.After(job.CreatedAt) {
		t.Errorf("stored at %v, not after job start %v", stored.CreatedAt, job.CreatedAt)
	}
}

func TestStart_ProgressInvariants(t *testing.T) {
	runner := &fakeRunner{}
	o := New(Config{Runner: runner, Workers: 4})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(25), Commands: []string{"show clock"}})
	if err != nil {
		t.Fatal(err)
	}
	ch := mustObserve(t, job)

	prev := 0.0
	seq := 0
	seen := make(map[string]bool)
	for n := range ch {
		seq++
		if n.Seq != seq {
			t.Errorf("seq = %d, want %d", n.Seq, seq)
		}
		if n.Progress < prev {
			t.Errorf("progress went backwards: %v after %v", n.Progress, prev)
		}
		prev = n.Progress
		if n.Completed > n.Total {
			t.Errorf("completed %d exceeds total %d", n.Completed, n.Total)
		}

		st := job.Snapshot()
		if recs := job.Records(); len(recs) < n.Completed || st.Completed < n.Completed {
			t.Errorf("artifact has %d records, notification says %d completed", len(recs), n.Completed)
		}

		if n.Record != nil {
			if seen[n.Record.Address] {
				t.Errorf("duplicate notification for %s", n.Record.Address)
			}
			seen[n.Record.Address] = true
		}
	}
	if len(seen) != 25 {
		t.Errorf("got %d distinct records, want 25", len(seen))
	}
	if len(job.Records()) != job.Snapshot().Completed {
		t.Error("artifact length differs from completed count")
	}
	if runner.peak > 4 {
		t.Errorf("peak concurrency %d exceeds pool size 4", runner.peak)
	}
}

func TestCancel_StopsDispatchAndDrains(t *testing.T) {
	runner := &fakeRunner{started: make(chan string, 10), gate: make(chan struct{})}
	o := New(Config{Runner: runner, Workers: 2})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(5), Commands: []string{"show run"}})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(5 * time.Second):
			t.Fatal("workers did not start")
		}
	}

	if err := o.Cancel(job.ID); err != nil {
		t.Fatal(err)
	}
	close(runner.gate)
	waitDone(t, job)

	st := job.Snapshot()
	if st.State != domain.JobCancelled {
		t.Errorf("state = %s, want cancelled", st.State)
	}
	if st.Dispatched != 2 || st.Completed != 2 {
		t.Errorf("dispatched=%d completed=%d, want 2 and 2", st.Dispatched, st.Completed)
	}
	if len(runner.started) != 0 {
		t.Errorf("%d tasks started after cancel", len(runner.started))
	}

	notes := collect(t, mustObserve(t, job))
	final := notes[len(notes)-1]
	if final.State != domain.JobCancelled || final.Completed != 2 || final.Total != 5 {
		t.Errorf("final = %+v", final)
	}
	if final.Artifact == "" {
		t.Error("a cancelled job still names its partial artifact")
	}
}

func TestCancel_AfterLastDispatch(t *testing.T) {
	runner := &fakeRunner{started: make(chan string, 2), gate: make(chan struct{})}
	o := New(Config{Runner: runner, Workers: 2})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(2), Commands: []string{"show run"}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(5 * time.Second):
			t.Fatal("workers did not start")
		}
	}

	if !job.Cancel() {
		t.Fatal("cancel of a running job should take effect")
	}
	close(runner.gate)
	waitDone(t, job)

	st := job.Snapshot()
	if st.State != domain.JobCancelled {
		t.Errorf("state = %s, want cancelled", st.State)
	}
	if st.Dispatched != 2 || st.Completed != 2 {
		t.Errorf("dispatched=%d completed=%d, want 2 and 2", st.Dispatched, st.Completed)
	}
	if a, ok := job.Artifact(); !ok || len(a.Records) != 2 {
		t.Errorf("cancelled job should keep both records, got %+v", a)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	o := New(Config{Runner: runner, Workers: 1})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(3), Commands: []string{"show run"}})
	if err != nil {
		t.Fatal(err)
	}

	if !job.Cancel() {
		t.Error("first cancel should take effect")
	}
	if job.Cancel() {
		t.Error("second cancel should be a no-op")
	}
	close(runner.gate)
	waitDone(t, job)

	if job.State() != domain.JobCancelled {
		t.Errorf("state = %s, want cancelled", job.State())
	}
	if job.Cancel() {
		t.Error("cancel on a terminal job should be a no-op")
	}
	if err := o.Cancel(job.ID); err != nil {
		t.Errorf("Cancel on terminal job: %v", err)
	}
	if job.State() != domain.JobCancelled {
		t.Errorf("state changed to %s", job.State())
	}
}

func TestCancel_FinishedJobStaysFinished(t *testing.T) {
	o := New(Config{Runner: &fakeRunner{}, Workers: 2})
	defer o.Close()

	job, _ := o.Start(context.Background(), JobSpec{Devices: devices(2), Commands: []string{"show clock"}})
	waitDone(t, job)

	if job.Cancel() {
		t.Error("cancel after finish should be a no-op")
	}
	if job.State() != domain.JobFinished {
		t.Errorf("state = %s, want finished", job.State())
	}
}

func TestObserve_SecondObserverConflicts(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	o := New(Config{Runner: runner, Workers: 1})
	defer o.Close()

	job, _ := o.Start(context.Background(), JobSpec{Devices: devices(2), Commands: []string{"show clock"}})

	ctx, cancel := context.WithCancel(context.Background())
	first, err := job.Observe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Observe(context.Background(), job.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("second observer err = %v, want ErrConflict", err)
	}

	// Detaching frees the slot; the next observer resumes where the first stopped.
	runner.gate <- struct{}{}
	n := <-first
	if n.Record == nil || n.Seq != 1 {
		t.Fatalf("first notification = %+v", n)
	}
	cancel()
	for range first {
	}

	var second <-chan domain.Notification
	deadline := time.Now().Add(5 * time.Second)
	for {
		second, err = job.Observe(context.Background())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observer slot never freed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(runner.gate)

	rest := collect(t, second)
	if len(rest) != 2 || rest[0].Seq != 2 || !rest[1].Final {
		t.Errorf("resumed stream = %+v, want record 2 then final", rest)
	}

	if _, err := job.Observe(context.Background()); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("observe after final err = %v, want ErrConflict", err)
	}
}

func TestStart_InvalidSpec(t *testing.T) {
	o := New(Config{Runner: &fakeRunner{}})
	defer o.Close()

	tests := []struct {
		name string
		spec JobSpec
	}{
		{"no devices", JobSpec{Commands: []string{"show clock"}}},
		{"no commands", JobSpec{Devices: devices(1)}},
		{"blank command", JobSpec{Devices: devices(1), Commands: []string{"show clock", "  "}}},
		{"access check with commands", JobSpec{Devices: devices(1), Commands: []string{"x"}, AccessCheck: true}},
		{"expect count mismatch", JobSpec{Devices: devices(1), Commands: []string{"a", "b"}, Expect: []string{"#"}}},
		{"bad output regex", JobSpec{Devices: devices(1), Commands: []string{"a"}, OutputRegex: "("}},
		{"duplicate device", JobSpec{Devices: append(devices(1), devices(1)...), Commands: []string{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := o.Start(context.Background(), tt.spec)
			if !errors.Is(err, apperrors.ErrInvalidJobSpec) {
				t.Errorf("err = %v, want ErrInvalidJobSpec", err)
			}
			if job != nil {
				t.Error("Start should not return a job for an invalid spec")
			}
		})
	}
}

func TestSubmit_InvalidSpecErrors(t *testing.T) {
	o := New(Config{Runner: &fakeRunner{}})
	defer o.Close()

	job := o.Submit(context.Background(), JobSpec{Commands: []string{"show clock"}})

	if job.State() != domain.JobErrored {
		t.Fatalf("state = %s, want errored", job.State())
	}
	if !errors.Is(job.Err(), apperrors.ErrInvalidJobSpec) {
		t.Errorf("Err() = %v", job.Err())
	}
	if _, err := o.Job(job.ID); err != nil {
		t.Errorf("errored job should be registered: %v", err)
	}

	notes := collect(t, mustObserve(t, job))
	if len(notes) != 1 || !notes[0].Final || notes[0].State != domain.JobErrored || notes[0].Artifact != "" {
		t.Errorf("notifications = %+v", notes)
	}
	if _, ok := job.Artifact(); ok {
		t.Error("errored job should have no artifact")
	}
}

func TestStart_AccessCheck(t *testing.T) {
	o := New(Config{Runner: &fakeRunner{}})
	defer o.Close()

	job, err := o.Start(context.Background(), JobSpec{Devices: devices(2), AccessCheck: true})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	if !strings.HasPrefix(job.Name(), "accessible__") {
		t.Errorf("Name() = %q", job.Name())
	}
	a, ok := job.Artifact()
	if !ok || len(a.Records) != 2 {
		t.Errorf("artifact = %+v", a)
	}
}

func TestRunnerPanicYieldsRecord(t *testing.T) {
	o := New(Config{Runner: &fakeRunner{panicOn: "10.0.0.1"}, Workers: 2})
	defer o.Close()

	job, _ := o.Start(context.Background(), JobSpec{Devices: devices(2), Commands: []string{"show clock"}})
	waitDone(t, job)

	recs := job.Records()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Address == "10.0.0.1" && r.Result != domain.ResultException {
			t.Errorf("panicking task record = %+v", r)
		}
	}
}

func TestForget(t *testing.T) {
	o := New(Config{Runner: &fakeRunner{}})
	defer o.Close()

	job, _ := o.Start(context.Background(), JobSpec{Devices: devices(1), Commands: []string{"a"}})
	o.Forget(job.ID)

	if _, err := o.Job(job.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := o.Cancel(job.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Cancel err = %v, want ErrNotFound", err)
	}
	waitDone(t, job)
}

func mustObserve(t *testing.T, job *Job) <-chan domain.Notification {
	t.Helper()
	ch, err := job.Observe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return ch
}
