package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is a queued print request. Identity fields are set once at admission;
// Status, Attempts, Error and the timestamps change only under the queue lock.
// SessionID stays out of the JSON form: anyone holding a job id may poll it,
// and the snapshot must not name the submitter.
type Job struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"device_id"`
	SessionID   string     `json:"-"`
	Payload     []byte     `json:"-"`
	Priority    int        `json:"priority"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	Fingerprint string     `json:"-"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// seq orders jobs of equal priority. It is reassigned whenever the job
	// re-enters the waiting set, so a retried job lines up behind jobs that
	// arrived while it was processing.
	seq uint64
}

func newJobID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// clone returns a snapshot safe to hand out; callers get stable timestamps
// even while the live job keeps moving through the queue.
func (j *Job) clone() *Job {
	cp := *j
	return &cp
}
