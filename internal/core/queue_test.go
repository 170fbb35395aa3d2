package core

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestQueue(grace time.Duration) *Queue {
	return NewQueue(grace, zap.NewNop())
}

func makeJob(id, deviceID, sessionID string, priority int) *Job {
	return &Job{
		ID:        id,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Payload:   []byte("payload"),
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

func TestQueueOrdersByPriorityThenArrival(t *testing.T) {
	q := newTestQueue(5 * time.Minute)

	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	q.Enqueue(makeJob("job-2", "dev-a", "s", 10))
	q.Enqueue(makeJob("job-3", "dev-a", "s", 100))

	want := []string{"job-2", "job-1", "job-3"}
	for i, expected := range want {
		job := q.StartNext()
		if job == nil {
			t.Fatalf("pop %d: expected a job", i)
		}
		if job.ID != expected {
			t.Fatalf("pop %d: expected %s, got %s", i, expected, job.ID)
		}
	}
	if job := q.StartNext(); job != nil {
		t.Fatalf("expected empty queue, got %s", job.ID)
	}
}

func TestQueueEnqueuePosition(t *testing.T) {
	q := newTestQueue(5 * time.Minute)

	if pos := q.Enqueue(makeJob("job-1", "dev-a", "s", 100)); pos != 1 {
		t.Fatalf("expected position 1, got %d", pos)
	}
	if pos := q.Enqueue(makeJob("job-2", "dev-a", "s", 100)); pos != 2 {
		t.Fatalf("expected position 2, got %d", pos)
	}
	// A better priority cuts the line.
	if pos := q.Enqueue(makeJob("job-3", "dev-a", "s", 10)); pos != 1 {
		t.Fatalf("expected position 1 for priority 10, got %d", pos)
	}
	if got := q.Position("job-1"); got != 2 {
		t.Fatalf("expected job-1 pushed to position 2, got %d", got)
	}
}

func TestQueueRetryLosesPosition(t *testing.T) {
	q := newTestQueue(5 * time.Minute)

	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	started := q.StartNext()
	if started == nil || started.ID != "job-1" {
		t.Fatalf("expected job-1 to start")
	}

	// job-2 arrives while job-1 is out.
	q.Enqueue(makeJob("job-2", "dev-a", "s", 100))

	if err := q.Requeue("job-1"); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}

	first := q.StartNext()
	if first == nil || first.ID != "job-2" {
		t.Fatalf("expected job-2 ahead of the retried job, got %v", first)
	}
	second := q.StartNext()
	if second == nil || second.ID != "job-1" {
		t.Fatalf("expected job-1 after requeue, got %v", second)
	}
	if second.Attempts != 2 {
		t.Fatalf("expected 2 attempts after restart, got %d", second.Attempts)
	}
}

func TestQueueStartNextCountsAttempt(t *testing.T) {
	q := newTestQueue(5 * time.Minute)
	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))

	job := q.StartNext()
	if job.Status != JobStatusProcessing {
		t.Fatalf("expected processing, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected attempt 1, got %d", job.Attempts)
	}
	if job.StartedAt == nil {
		t.Fatalf("expected started timestamp")
	}
	if got := q.ProcessingCount(); got != 1 {
		t.Fatalf("expected 1 processing, got %d", got)
	}
}

func TestQueueCancel(t *testing.T) {
	q := newTestQueue(5 * time.Minute)
	q.Enqueue(makeJob("job-1", "dev-a", "sess-1", 100))

	cases := []struct {
		name      string
		id        string
		sessionID string
		wantErr   error
	}{
		{"unknown job", "job-x", "sess-1", ErrJobNotFound},
		{"wrong owner", "job-1", "sess-2", ErrNotOwner},
		{"owner", "job-1", "sess-1", nil},
	}
	for _, tc := range cases {
		err := q.Cancel(tc.id, tc.sessionID)
		if tc.wantErr == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tc.name, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}

	if _, ok := q.Job("job-1"); ok {
		t.Fatalf("cancelled job should be gone")
	}
	if got := q.WaitingCount(); got != 0 {
		t.Fatalf("expected empty waiting set, got %d", got)
	}
}

func TestQueueCancelProcessingRefused(t *testing.T) {
	q := newTestQueue(5 * time.Minute)
	q.Enqueue(makeJob("job-1", "dev-a", "sess-1", 100))
	q.StartNext()

	if err := q.Cancel("job-1", "sess-1"); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestQueueTerminalVisibleThenPurged(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	q := newTestQueue(5 * time.Minute)
	q.now = func() time.Time { return base }

	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	q.StartNext()
	if err := q.Complete("job-1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	job, ok := q.Job("job-1")
	if !ok {
		t.Fatalf("completed job should stay visible inside the grace period")
	}
	if job.Status != JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}

	// Inside the grace period nothing is purged.
	q.now = func() time.Time { return base.Add(4 * time.Minute) }
	if removed := q.purge(); removed != 0 {
		t.Fatalf("expected no purge inside grace, removed %d", removed)
	}

	q.now = func() time.Time { return base.Add(6 * time.Minute) }
	if removed := q.purge(); removed != 1 {
		t.Fatalf("expected 1 purged job, removed %d", removed)
	}
	if _, ok := q.Job("job-1"); ok {
		t.Fatalf("purged job should be unknown")
	}
}

func TestQueuePurgeSparesActiveJobs(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	q := newTestQueue(5 * time.Minute)
	q.now = func() time.Time { return base }

	q.Enqueue(makeJob("job-wait", "dev-a", "s", 100))
	q.Enqueue(makeJob("job-run", "dev-a", "s", 10))
	q.StartNext()

	q.now = func() time.Time { return base.Add(time.Hour) }
	if removed := q.purge(); removed != 0 {
		t.Fatalf("purge must only touch terminal jobs, removed %d", removed)
	}
}

func TestQueueFailKeepsError(t *testing.T) {
	q := newTestQueue(5 * time.Minute)
	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	q.StartNext()

	if err := q.Fail("job-1", "vendor unreachable"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	job, ok := q.Job("job-1")
	if !ok {
		t.Fatalf("failed job should stay visible")
	}
	if job.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "vendor unreachable" {
		t.Fatalf("expected error message kept, got %q", job.Error)
	}
}

func TestQueueCounts(t *testing.T) {
	q := newTestQueue(5 * time.Minute)

	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))
	q.Enqueue(makeJob("job-2", "dev-a", "s", 100))
	q.Enqueue(makeJob("job-3", "dev-b", "s", 10))
	q.StartNext() // job-3, priority 10

	c := q.Counts()
	if c.Waiting != 2 || c.Processing != 1 {
		t.Fatalf("expected 2 waiting / 1 processing, got %d/%d", c.Waiting, c.Processing)
	}
	if got := c.PerDevice["dev-a"]; got.Waiting != 2 || got.Processing != 0 {
		t.Fatalf("unexpected dev-a counts: %+v", got)
	}
	if got := c.PerDevice["dev-b"]; got.Waiting != 0 || got.Processing != 1 {
		t.Fatalf("unexpected dev-b counts: %+v", got)
	}
	if got := q.BacklogFor("dev-a"); got != 2 {
		t.Fatalf("expected backlog 2 for dev-a, got %d", got)
	}
}

func TestQueueRequeueRequiresProcessing(t *testing.T) {
	q := newTestQueue(5 * time.Minute)
	q.Enqueue(makeJob("job-1", "dev-a", "s", 100))

	if err := q.Requeue("job-1"); err == nil {
		t.Fatalf("requeue of a waiting job must fail")
	}
	if err := q.Requeue("job-x"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
