package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/metrics"
)

// DispatcherConfig carries the pacing knobs for the dispatch loop.
type DispatcherConfig struct {
	// Tick is the poll interval of the loop.
	Tick time.Duration
	// MaxConcurrent caps how many submissions may be in flight at once.
	MaxConcurrent int
	// SubmitSpacing is the minimum gap between the starts of two external
	// calls, independent of concurrency.
	SubmitSpacing time.Duration
	// SubmitTimeout bounds a single vendor call. Zero means no deadline.
	SubmitTimeout time.Duration
	// MaxAttempts is the total number of tries a job gets before failing.
	MaxAttempts int
}

// Dispatcher drains the queue toward the vendor. Each tick it takes at most
// one job off the head, flips it to processing and hands it to a worker
// goroutine, respecting the concurrency ceiling and the submission spacing.
type Dispatcher struct {
	cfg          DispatcherConfig
	queue        *Queue
	submitter    Submitter
	correlations *CorrelationTable
	notifier     Notifier
	recorder     JobRecorder

	// lastCallAt is only touched by the loop goroutine.
	lastCallAt time.Time

	logger *zap.Logger
	now    func() time.Time
	sleep  func(time.Duration)

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher wires the loop to its queue, vendor client and sinks. The
// notifier and recorder may be nil.
func NewDispatcher(cfg DispatcherConfig, queue *Queue, submitter Submitter, correlations *CorrelationTable, notifier Notifier, recorder JobRecorder, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		queue:        queue,
		submitter:    submitter,
		correlations: correlations,
		notifier:     notifier,
		recorder:     recorder,
		logger:       logger.Named("dispatcher"),
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.loop()
	d.logger.Info("Dispatcher started",
		zap.Duration("tick", d.cfg.Tick),
		zap.Int("max_concurrent", d.cfg.MaxConcurrent),
		zap.Duration("submit_spacing", d.cfg.SubmitSpacing))
}

// Stop halts the loop and waits for it and any in-flight submissions.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.dispatch()
		}
	}
}

// dispatch moves at most one job from waiting to processing. Drained or
// saturated ticks return immediately; only a tick that will actually submit
// pays the spacing wait.
func (d *Dispatcher) dispatch() {
	if d.queue.ProcessingCount() >= d.cfg.MaxConcurrent {
		return
	}
	if d.queue.WaitingCount() == 0 {
		return
	}

	d.waitSpacing()

	job := d.queue.StartNext()
	if job == nil {
		return
	}
	d.lastCallAt = d.now()
	metrics.JobsDispatchedTotal.Inc()

	d.logger.Info("Dispatching job",
		zap.String("job_id", job.ID),
		zap.String("device_id", job.DeviceID),
		zap.Int("attempt", job.Attempts))
	d.notifyJob(job.ID, job.DeviceID, string(JobStatusProcessing))

	d.wg.Add(1)
	go d.process(job)
}

// waitSpacing blocks until the minimum gap since the last call start has
// passed. A paused queue accumulates no debt; the gap is measured, not
// scheduled.
func (d *Dispatcher) waitSpacing() {
	if d.cfg.SubmitSpacing <= 0 || d.lastCallAt.IsZero() {
		return
	}
	if elapsed := d.now().Sub(d.lastCallAt); elapsed < d.cfg.SubmitSpacing {
		d.sleep(d.cfg.SubmitSpacing - elapsed)
	}
}

func (d *Dispatcher) process(job *Job) {
	defer d.wg.Done()

	log := d.logger.With(
		zap.String("job_id", job.ID),
		zap.String("device_id", job.DeviceID),
		zap.Int("attempt", job.Attempts))

	ctx := context.Background()
	if d.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SubmitTimeout)
		defer cancel()
	}

	start := d.now()
	vendorOrderID, err := d.submitter.Submit(ctx, job.DeviceID, job.Payload)
	metrics.SubmitDurationSeconds.Observe(d.now().Sub(start).Seconds())

	if err != nil {
		d.handleFailure(job, log, err)
		return
	}

	if err := d.queue.Complete(job.ID); err != nil {
		log.Warn("Completion bookkeeping failed", zap.Error(err))
	}
	d.correlations.Register(job.ID, vendorOrderID, job.DeviceID)
	metrics.JobsCompletedTotal.WithLabelValues("completed").Inc()
	log.Info("Job completed", zap.String("vendor_order_id", vendorOrderID))

	d.notifyJob(job.ID, job.DeviceID, string(JobStatusCompleted))
	d.record(job.ID)
}

func (d *Dispatcher) handleFailure(job *Job, log *zap.Logger, submitErr error) {
	if job.Attempts < d.cfg.MaxAttempts {
		log.Warn("Submission failed, requeueing", zap.Error(submitErr))
		if err := d.queue.Requeue(job.ID); err != nil {
			log.Warn("Requeue failed", zap.Error(err))
			return
		}
		metrics.JobRetriesTotal.Inc()
		d.notifyJob(job.ID, job.DeviceID, string(JobStatusWaiting))
		return
	}

	log.Error("Submission failed, attempts exhausted", zap.Error(submitErr))
	if err := d.queue.Fail(job.ID, submitErr.Error()); err != nil {
		log.Warn("Failure bookkeeping failed", zap.Error(err))
	}
	metrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
	d.notifyJob(job.ID, job.DeviceID, string(JobStatusFailed))
	d.record(job.ID)
}

func (d *Dispatcher) notifyJob(jobID, deviceID, status string) {
	if d.notifier == nil {
		return
	}
	d.notifier.NotifyJob(JobEvent{JobID: jobID, DeviceID: deviceID, Status: status})
}

// record archives the job's terminal snapshot. Failures are logged and
// swallowed; history never blocks the queue.
func (d *Dispatcher) record(jobID string) {
	if d.recorder == nil {
		return
	}
	job, ok := d.queue.Job(jobID)
	if !ok {
		return
	}
	if err := d.recorder.RecordJob(job); err != nil {
		d.logger.Warn("History record failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
