package core

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/metrics"
)

var (
	// ErrDuplicateSubmission is returned when the fingerprint guard has seen
	// an equivalent submission inside its window.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrEmptyPayload is returned when a submission carries no content.
	ErrEmptyPayload = errors.New("empty payload")
)

// SubmitRequest is one print submission as seen by the core.
type SubmitRequest struct {
	SessionID string
	// DeviceID, when set, pins the job to that device and bypasses the
	// round-robin rotation.
	DeviceID string
	Payload  []byte
	// Premium sessions get the lower (better) priority value.
	Premium bool
}

// SubmitResult is the immediate answer to an accepted submission.
type SubmitResult struct {
	JobID    string `json:"job_id"`
	DeviceID string `json:"device_id"`
	Position int    `json:"position"`
}

// Service is the admission surface of the queue subsystem. A submission runs
// the fingerprint guard, resolves its target device and lands in the queue,
// all synchronously; the caller gets an id and a position or a rejection
// right away.
type Service struct {
	guard   *FingerprintGuard
	devices *DeviceRegistry
	queue   *Queue

	defaultPriority int
	premiumPriority int

	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the admission path.
func NewService(guard *FingerprintGuard, devices *DeviceRegistry, queue *Queue, defaultPriority, premiumPriority int, logger *zap.Logger) *Service {
	return &Service{
		guard:           guard,
		devices:         devices,
		queue:           queue,
		defaultPriority: defaultPriority,
		premiumPriority: premiumPriority,
		logger:          logger.Named("service"),
		now:             time.Now,
	}
}

// Submit admits a job or rejects it. The fingerprint is recorded before any
// other check, so even a submission that fails device resolution suppresses
// identical retries for the window.
func (s *Service) Submit(req SubmitRequest) (*SubmitResult, error) {
	if len(req.Payload) == 0 {
		return nil, ErrEmptyPayload
	}

	fp, ok := s.guard.Admit(req.SessionID, req.Payload)
	if !ok {
		metrics.JobsRejectedTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Duplicate submission suppressed",
			zap.String("session_id", req.SessionID),
			zap.String("fingerprint", fp[:12]))
		return nil, ErrDuplicateSubmission
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		next, err := s.devices.Next()
		if err != nil {
			metrics.JobsRejectedTotal.WithLabelValues("no_device").Inc()
			return nil, fmt.Errorf("selecting device: %w", err)
		}
		deviceID = next
	} else if !s.devices.Has(deviceID) {
		metrics.JobsRejectedTotal.WithLabelValues("no_device").Inc()
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrUnknownDevice)
	}

	priority := s.defaultPriority
	if req.Premium {
		priority = s.premiumPriority
	}

	now := s.now()
	job := &Job{
		ID:          newJobID(now),
		DeviceID:    deviceID,
		SessionID:   req.SessionID,
		Payload:     req.Payload,
		Priority:    priority,
		Fingerprint: fp,
		CreatedAt:   now,
	}
	position := s.queue.Enqueue(job)
	metrics.JobsAdmittedTotal.Inc()

	return &SubmitResult{JobID: job.ID, DeviceID: deviceID, Position: position}, nil
}

// Job returns the current snapshot of a job, with its waiting position when
// it still has one.
func (s *Service) Job(id string) (*Job, int, error) {
	job, ok := s.queue.Job(id)
	if !ok {
		return nil, 0, ErrJobNotFound
	}
	return job, s.queue.Position(id), nil
}

// Cancel removes a waiting job on behalf of the session that submitted it.
func (s *Service) Cancel(id, sessionID string) error {
	if err := s.queue.Cancel(id, sessionID); err != nil {
		return err
	}
	metrics.JobsCancelledTotal.Inc()
	return nil
}

// Counts reports the queue census.
func (s *Service) Counts() Counts {
	return s.queue.Counts()
}

// Devices lists the registry snapshots with each device's waiting backlog.
func (s *Service) Devices() []DeviceStatus {
	devices := s.devices.List()
	out := make([]DeviceStatus, 0, len(devices))
	for _, dev := range devices {
		out = append(out, DeviceStatus{
			Device:  dev,
			Backlog: s.queue.BacklogFor(dev.ID),
		})
	}
	return out
}

// DeviceStatus pairs a device snapshot with its waiting backlog.
type DeviceStatus struct {
	Device
	Backlog int `json:"backlog"`
}
