package core

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/metrics"
)

// correlation is one internal-to-vendor id pair plus the device it ran on.
type correlation struct {
	jobID         string
	vendorOrderID string
	deviceID      string
	registeredAt  time.Time
}

// CorrelationStats summarizes the live table for operational inspection.
type CorrelationStats struct {
	Entries   int           `json:"entries"`
	OldestAge time.Duration `json:"oldest_age"`
}

// CorrelationTable maps internal job ids to vendor order ids and back, so
// vendor events keyed by their own ids can be attributed to our jobs. Both
// directions and the device tag move together; there is never a moment where
// one side resolves and the other does not.
type CorrelationTable struct {
	mu       sync.RWMutex
	byJob    map[string]*correlation
	byVendor map[string]*correlation

	retention time.Duration

	logger *zap.Logger
	now    func() time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewCorrelationTable creates a table whose entries expire after retention.
func NewCorrelationTable(retention time.Duration, logger *zap.Logger) *CorrelationTable {
	return &CorrelationTable{
		byJob:     make(map[string]*correlation),
		byVendor:  make(map[string]*correlation),
		retention: retention,
		logger:    logger.Named("correlation"),
		now:       time.Now,
	}
}

// Register stores the pair. Registering the same pair again is harmless. A
// job re-registered under a different vendor order id takes last-write-wins:
// the old pair is dropped whole and the event logged as notable, since it
// usually means the vendor reissued the order.
func (t *CorrelationTable) Register(jobID, vendorOrderID, deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byJob[jobID]; ok {
		if existing.vendorOrderID == vendorOrderID {
			existing.deviceID = deviceID
			return
		}
		t.logger.Warn("Job re-registered under new vendor order id",
			zap.String("job_id", jobID),
			zap.String("old_vendor_order_id", existing.vendorOrderID),
			zap.String("new_vendor_order_id", vendorOrderID))
		delete(t.byVendor, existing.vendorOrderID)
	}
	if existing, ok := t.byVendor[vendorOrderID]; ok && existing.jobID != jobID {
		t.logger.Warn("Vendor order id re-registered under new job",
			zap.String("vendor_order_id", vendorOrderID),
			zap.String("old_job_id", existing.jobID),
			zap.String("new_job_id", jobID))
		delete(t.byJob, existing.jobID)
	}

	entry := &correlation{
		jobID:         jobID,
		vendorOrderID: vendorOrderID,
		deviceID:      deviceID,
		registeredAt:  t.now(),
	}
	t.byJob[jobID] = entry
	t.byVendor[vendorOrderID] = entry
	metrics.CorrelationEntries.Set(float64(len(t.byJob)))
}

// JobFor resolves a vendor order id to the internal job id.
func (t *CorrelationTable) JobFor(vendorOrderID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.byVendor[vendorOrderID]
	if !ok {
		return "", false
	}
	return entry.jobID, true
}

// VendorOrderFor resolves an internal job id to the vendor order id.
func (t *CorrelationTable) VendorOrderFor(jobID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.byJob[jobID]
	if !ok {
		return "", false
	}
	return entry.vendorOrderID, true
}

// DeviceFor returns the device tag for either id, internal or vendor.
func (t *CorrelationTable) DeviceFor(id string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if entry, ok := t.byJob[id]; ok {
		return entry.deviceID, true
	}
	if entry, ok := t.byVendor[id]; ok {
		return entry.deviceID, true
	}
	return "", false
}

// Stats reports the live entry count and the age of the oldest entry.
func (t *CorrelationTable) Stats() CorrelationStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := CorrelationStats{Entries: len(t.byJob)}
	now := t.now()
	for _, entry := range t.byJob {
		if age := now.Sub(entry.registeredAt); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}
	return stats
}

// Start launches the reaper that expires entries past the retention window.
func (t *CorrelationTable) Start(interval time.Duration) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})

	t.wg.Add(1)
	go t.reapLoop(interval)
	t.logger.Info("Correlation reaper started",
		zap.Duration("interval", interval),
		zap.Duration("retention", t.retention))
}

// Stop halts the reaper and waits for it to exit.
func (t *CorrelationTable) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stopCh)
	t.wg.Wait()
	t.logger.Info("Correlation reaper stopped")
}

func (t *CorrelationTable) reapLoop(interval time.Duration) {
	defer t.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			if removed := t.reap(); removed > 0 {
				t.logger.Info("Reaped expired correlations", zap.Int("removed", removed))
			}
		}
	}
}

// reap drops expired entries. Each pair leaves both maps under the same
// lock, so a reader can never see half an eviction.
func (t *CorrelationTable) reap() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for jobID, entry := range t.byJob {
		if now.Sub(entry.registeredAt) >= t.retention {
			delete(t.byJob, jobID)
			delete(t.byVendor, entry.vendorOrderID)
			removed++
		}
	}
	metrics.CorrelationEntries.Set(float64(len(t.byJob)))
	return removed
}
