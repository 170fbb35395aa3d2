package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeSubmitter hands out sequential vendor order ids. It can fail a fixed
// number of times and can block until released to simulate slow calls.
type fakeSubmitter struct {
	mu        sync.Mutex
	calls     []string
	nextID    int
	failTimes int
	release   chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, deviceID string, payload []byte) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, deviceID)
	f.nextID++
	id := fmt.Sprintf("vendor-%d", f.nextID)
	var err error
	if f.failTimes > 0 {
		f.failTimes--
		err = errors.New("printer jam")
	}
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestDispatcher(cfg DispatcherConfig, sub Submitter, recorder JobRecorder) (*Dispatcher, *Queue, *CorrelationTable, *fakeNotifier) {
	q := newTestQueue(5 * time.Minute)
	tbl := NewCorrelationTable(24*time.Hour, zap.NewNop())
	notifier := &fakeNotifier{}
	d := NewDispatcher(cfg, q, sub, tbl, notifier, recorder, zap.NewNop())
	return d, q, tbl, notifier
}

func TestDispatcherCompletesJob(t *testing.T) {
	sub := &fakeSubmitter{}
	d, q, tbl, notifier := newTestDispatcher(DispatcherConfig{MaxConcurrent: 3, MaxAttempts: 3}, sub, nil)

	q.Enqueue(makeJob("job-1", "dev-a", "sess-1", 100))
	d.dispatch()
	d.wg.Wait()

	job, ok := q.Job("job-1")
	if !ok || job.Status != JobStatusCompleted {
		t.Fatalf("expected completed job, got %+v", job)
	}
	if jobID, ok := tbl.JobFor("vendor-1"); !ok || jobID != "job-1" {
		t.Fatalf("expected correlation registered, got %q ok=%v", jobID, ok)
	}
	if dev, _ := tbl.DeviceFor("job-1"); dev != "dev-a" {
		t.Fatalf("expected device tag dev-a, got %s", dev)
	}

	events := notifier.jobs()
	if len(events) != 2 || events[0].Status != string(JobStatusProcessing) || events[1].Status != string(JobStatusCompleted) {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestDispatcherConcurrencyCeiling(t *testing.T) {
	release := make(chan struct{})
	sub := &fakeSubmitter{release: release}
	d, q, _, _ := newTestDispatcher(DispatcherConfig{MaxConcurrent: 3, MaxAttempts: 3}, sub, nil)

	for i := 0; i < 5; i++ {
		q.Enqueue(makeJob(fmt.Sprintf("job-%d", i), "dev-a", "s", 100))
	}

	for i := 0; i < 3; i++ {
		d.dispatch()
	}
	if got := q.ProcessingCount(); got != 3 {
		t.Fatalf("expected 3 in flight, got %d", got)
	}
	if got := q.WaitingCount(); got != 2 {
		t.Fatalf("expected 2 still waiting, got %d", got)
	}

	// At the ceiling the tick must not take another job.
	d.dispatch()
	if got := q.ProcessingCount(); got != 3 {
		t.Fatalf("ceiling breached: %d in flight", got)
	}
	if got := q.WaitingCount(); got != 2 {
		t.Fatalf("waiting set shrank past the ceiling: %d", got)
	}

	close(release)
	d.wg.Wait()

	d.dispatch()
	d.dispatch()
	d.wg.Wait()
	if got := sub.callCount(); got != 5 {
		t.Fatalf("expected 5 submissions, got %d", got)
	}
	if got := q.Counts(); got.Waiting != 0 || got.Processing != 0 {
		t.Fatalf("expected drained queue, got %+v", got)
	}
}

func TestDispatcherRetriesUntilExhausted(t *testing.T) {
	sub := &fakeSubmitter{failTimes: 10}
	d, q, _, _ := newTestDispatcher(DispatcherConfig{MaxConcurrent: 3, MaxAttempts: 3}, sub, nil)

	q.Enqueue(makeJob("job-1", "dev-a", "sess-1", 100))

	d.dispatch()
	d.wg.Wait()
	job, _ := q.Job("job-1")
	if job.Status != JobStatusWaiting || job.Attempts != 1 {
		t.Fatalf("expected requeued job with 1 attempt, got %s/%d", job.Status, job.Attempts)
	}

	d.dispatch()
	d.wg.Wait()
	d.dispatch()
	d.wg.Wait()

	job, ok := q.Job("job-1")
	if !ok {
		t.Fatalf("failed job should stay visible")
	}
	if job.Status != JobStatusFailed {
		t.Fatalf("expected failed after max attempts, got %s", job.Status)
	}
	if job.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", job.Attempts)
	}
	if job.Error != "printer jam" {
		t.Fatalf("expected last error kept, got %q", job.Error)
	}
	if got := sub.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 submissions, got %d", got)
	}
}

func TestDispatcherRetrySucceedsEventually(t *testing.T) {
	sub := &fakeSubmitter{failTimes: 1}
	d, q, tbl, _ := newTestDispatcher(DispatcherConfig{MaxConcurrent: 3, MaxAttempts: 3}, sub, nil)

	q.Enqueue(makeJob("job-1", "dev-a", "sess-1", 100))

	d.dispatch()
	d.wg.Wait()
	d.dispatch()
	d.wg.Wait()

	job, _ := q.Job("job-1")
	if job.Status != JobStatusCompleted || job.Attempts != 2 {
		t.Fatalf("expected completion on second attempt, got %s/%d", job.Status, job.Attempts)
	}
	if _, ok := tbl.VendorOrderFor("job-1"); !ok {
		t.Fatalf("expected correlation after eventual success")
	}
}

func TestDispatcherSubmitSpacing(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	now := base
	var slept []time.Duration

	sub := &fakeSubmitter{}
	d, q, _, _ := newTestDispatcher(DispatcherConfig{MaxConcurrent: 3, MaxAttempts: 3, SubmitSpacing: time.Second}, sub, nil)
	d.now = func() time.Time { return now }
	d.sleep = func(dur time.Duration) { slept = append(slept, dur) }

	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	q.Enqueue(makeJob("job-2", "dev-a", "s", 100))
	q.Enqueue(makeJob("job-3", "dev-a", "s", 100))

	// First call has no predecessor, no wait.
	d.dispatch()
	if len(slept) != 0 {
		t.Fatalf("first dispatch must not wait, slept %v", slept)
	}

	// Second call starts in the same instant, must wait out the full gap.
	d.dispatch()
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected a 1s spacing wait, got %v", slept)
	}

	// Let the in-flight workers drain before moving the clock.
	d.wg.Wait()

	// Enough time has passed, no wait.
	now = base.Add(3 * time.Second)
	d.dispatch()
	if len(slept) != 1 {
		t.Fatalf("expected no further waits, got %v", slept)
	}

	d.wg.Wait()
}

func TestDispatcherRunsWithTicker(t *testing.T) {
	sub := &fakeSubmitter{}
	d, q, _, _ := newTestDispatcher(DispatcherConfig{Tick: time.Millisecond, MaxConcurrent: 3, MaxAttempts: 3}, sub, nil)

	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	d.Start()
	defer d.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if job, ok := q.Job("job-1"); ok && job.Status == JobStatusCompleted {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job did not complete in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// fakeRecorder captures terminal snapshots.
type fakeRecorder struct {
	mu   sync.Mutex
	jobs []*Job
}

func (f *fakeRecorder) RecordJob(job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func TestDispatcherRecordsTerminalJobs(t *testing.T) {
	rec := &fakeRecorder{}
	sub := &fakeSubmitter{failTimes: 10}
	d, q, _, _ := newTestDispatcher(DispatcherConfig{MaxConcurrent: 3, MaxAttempts: 1}, sub, rec)

	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	d.dispatch()
	d.wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.jobs) != 1 {
		t.Fatalf("expected 1 recorded job, got %d", len(rec.jobs))
	}
	if rec.jobs[0].Status != JobStatusFailed {
		t.Fatalf("expected failed snapshot, got %s", rec.jobs[0].Status)
	}
}
