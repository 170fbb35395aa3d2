package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/metrics"
)

var (
	// ErrJobNotFound is returned when the job id is unknown or already purged.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotOwner is returned when a session tries to cancel another
	// session's job.
	ErrNotOwner = errors.New("job belongs to a different session")
	// ErrNotCancellable is returned when the job has already left the
	// waiting set.
	ErrNotCancellable = errors.New("job is not waiting")
)

// DeviceCounts is the waiting/processing split for one device.
type DeviceCounts struct {
	Waiting    int `json:"waiting"`
	Processing int `json:"processing"`
}

// Counts is a point-in-time census of the queue.
type Counts struct {
	Waiting    int                     `json:"waiting"`
	Processing int                     `json:"processing"`
	PerDevice  map[string]DeviceCounts `json:"per_device"`
}

// Queue holds every known job and keeps the waiting subset ordered by
// (priority, arrival). Lower priority values run first; ties run in arrival
// order. Terminal jobs stay visible for a grace period so late status polls
// still resolve, then the purge loop drops them.
type Queue struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	waiting    []*Job
	nextSeq    uint64
	processing int

	grace time.Duration

	logger *zap.Logger
	now    func() time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewQueue creates an empty queue whose terminal jobs linger for grace
// before purging.
func NewQueue(grace time.Duration, logger *zap.Logger) *Queue {
	return &Queue{
		jobs:   make(map[string]*Job),
		grace:  grace,
		logger: logger.Named("queue"),
		now:    time.Now,
	}
}

// Enqueue admits a job into the waiting set and returns its 1-based
// position.
func (q *Queue) Enqueue(job *Job) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.Status = JobStatusWaiting
	job.seq = q.nextSeq
	q.nextSeq++
	q.jobs[job.ID] = job
	pos := q.insert(job)
	q.updateGauges()

	q.logger.Info("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("device_id", job.DeviceID),
		zap.Int("priority", job.Priority),
		zap.Int("position", pos+1))
	return pos + 1
}

// insert places the job into the waiting slice keeping (priority, seq) order
// and returns its index. Callers hold the lock.
func (q *Queue) insert(job *Job) int {
	i := sort.Search(len(q.waiting), func(i int) bool {
		w := q.waiting[i]
		if w.Priority != job.Priority {
			return w.Priority > job.Priority
		}
		return w.seq > job.seq
	})
	q.waiting = append(q.waiting, nil)
	copy(q.waiting[i+1:], q.waiting[i:])
	q.waiting[i] = job
	return i
}

// StartNext pops the head of the waiting set, flips it to processing and
// counts the attempt, all under one lock so a job can never be handed out
// twice. Returns a snapshot, or nil when nothing waits.
func (q *Queue) StartNext() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) == 0 {
		return nil
	}
	job := q.waiting[0]
	q.waiting = q.waiting[1:]

	now := q.now()
	job.Status = JobStatusProcessing
	job.Attempts++
	job.StartedAt = &now
	q.processing++
	q.updateGauges()
	return job.clone()
}

// Requeue returns a processing job to the waiting set after a failed
// attempt. The job takes a fresh sequence number, so it lines up behind
// whatever arrived at the same priority while it was out.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != JobStatusProcessing {
		return fmt.Errorf("requeue %s: unexpected status %s", id, job.Status)
	}

	q.processing--
	job.Status = JobStatusWaiting
	job.StartedAt = nil
	job.seq = q.nextSeq
	q.nextSeq++
	q.insert(job)
	q.updateGauges()
	return nil
}

// Complete marks a processing job as successfully finished.
func (q *Queue) Complete(id string) error {
	return q.finish(id, JobStatusCompleted, "")
}

// Fail marks a processing job as exhausted, keeping the last error for
// status polls.
func (q *Queue) Fail(id, errMsg string) error {
	return q.finish(id, JobStatusFailed, errMsg)
}

func (q *Queue) finish(id string, status JobStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != JobStatusProcessing {
		return fmt.Errorf("finish %s: unexpected status %s", id, job.Status)
	}

	now := q.now()
	q.processing--
	job.Status = status
	job.Error = errMsg
	job.CompletedAt = &now
	q.updateGauges()
	return nil
}

// Cancel removes a waiting job. Only the submitting session may cancel, and
// only while the job still waits; a processing job is already on its way to
// the vendor.
func (q *Queue) Cancel(id, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.SessionID != sessionID {
		return ErrNotOwner
	}
	if job.Status != JobStatusWaiting {
		return ErrNotCancellable
	}

	for i, w := range q.waiting {
		if w.ID == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	delete(q.jobs, id)
	q.updateGauges()

	q.logger.Info("Job cancelled", zap.String("job_id", id))
	return nil
}

// Job returns a snapshot of the job, if known.
func (q *Queue) Job(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// Position returns the 1-based waiting position of the job, or 0 when the
// job is not in the waiting set.
func (q *Queue) Position(id string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for i, job := range q.waiting {
		if job.ID == id {
			return i + 1
		}
	}
	return 0
}

// Counts reports waiting and processing totals, overall and per device.
func (q *Queue) Counts() Counts {
	q.mu.RLock()
	defer q.mu.RUnlock()

	c := Counts{PerDevice: make(map[string]DeviceCounts)}
	for _, job := range q.jobs {
		switch job.Status {
		case JobStatusWaiting:
			c.Waiting++
			d := c.PerDevice[job.DeviceID]
			d.Waiting++
			c.PerDevice[job.DeviceID] = d
		case JobStatusProcessing:
			c.Processing++
			d := c.PerDevice[job.DeviceID]
			d.Processing++
			c.PerDevice[job.DeviceID] = d
		}
	}
	return c
}

// BacklogFor counts waiting jobs addressed to the device.
func (q *Queue) BacklogFor(deviceID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, job := range q.waiting {
		if job.DeviceID == deviceID {
			n++
		}
	}
	return n
}

// ProcessingCount reports how many jobs are in flight.
func (q *Queue) ProcessingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.processing
}

// WaitingCount reports how many jobs are waiting.
func (q *Queue) WaitingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.waiting)
}

// Start launches the purge loop that drops terminal jobs past the grace
// period.
func (q *Queue) Start(interval time.Duration) {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})

	q.wg.Add(1)
	go q.purgeLoop(interval)
	q.logger.Info("Queue purge started", zap.Duration("interval", interval), zap.Duration("grace", q.grace))
}

// Stop halts the purge loop and waits for it to exit.
func (q *Queue) Stop() {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if !q.running {
		return
	}
	q.running = false
	close(q.stopCh)
	q.wg.Wait()
	q.logger.Info("Queue purge stopped")
}

func (q *Queue) purgeLoop(interval time.Duration) {
	defer q.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if removed := q.purge(); removed > 0 {
				q.logger.Debug("Purged terminal jobs", zap.Int("removed", removed))
			}
		}
	}
}

func (q *Queue) purge() int {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.Status != JobStatusCompleted && job.Status != JobStatusFailed {
			continue
		}
		if job.CompletedAt != nil && now.Sub(*job.CompletedAt) >= q.grace {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

func (q *Queue) updateGauges() {
	metrics.QueueWaiting.Set(float64(len(q.waiting)))
	metrics.QueueProcessing.Set(float64(q.processing))
}
