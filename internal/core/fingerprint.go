package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// fingerprintPrefixLen caps how much of the payload participates in the
// fingerprint. Long payloads that differ only past this point hash equal,
// which is acceptable for burst suppression.
const fingerprintPrefixLen = 256

// FingerprintGuard suppresses duplicate submissions inside a short window.
// The window is approximate at bucket edges: the hash folds in a coarse time
// bucket, so two identical submissions straddling a bucket boundary may both
// be admitted.
type FingerprintGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration

	logger *zap.Logger
	now    func() time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFingerprintGuard creates a guard with the given suppression window.
func NewFingerprintGuard(window time.Duration, logger *zap.Logger) *FingerprintGuard {
	return &FingerprintGuard{
		entries: make(map[string]time.Time),
		window:  window,
		logger:  logger.Named("fingerprint"),
		now:     time.Now,
	}
}

// Fingerprint hashes the submitter session, the payload prefix and the time
// bucket the submission falls into.
func Fingerprint(sessionID string, payload []byte, bucket int64) string {
	prefix := payload
	if len(prefix) > fingerprintPrefixLen {
		prefix = prefix[:fingerprintPrefixLen]
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|", sessionID, bucket)
	h.Write(prefix)
	return hex.EncodeToString(h.Sum(nil))
}

// Admit checks the submission against the window and, when it passes, records
// it immediately. The record is written whether or not the job is later
// admitted to the queue, so a rejected job still suppresses its twins.
func (g *FingerprintGuard) Admit(sessionID string, payload []byte) (string, bool) {
	now := g.now()
	bucket := now.UnixMilli() / g.window.Milliseconds()
	fp := Fingerprint(sessionID, payload, bucket)

	g.mu.Lock()
	defer g.mu.Unlock()

	if seen, ok := g.entries[fp]; ok && now.Sub(seen) < g.window {
		return fp, false
	}
	g.entries[fp] = now
	return fp, true
}

// Start launches the periodic sweep that drops expired entries.
func (g *FingerprintGuard) Start(interval time.Duration) {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.running {
		return
	}
	g.running = true
	g.stopCh = make(chan struct{})

	g.wg.Add(1)
	go g.sweepLoop(interval)
	g.logger.Info("Fingerprint sweep started", zap.Duration("interval", interval))
}

// Stop halts the sweep loop and waits for it to exit.
func (g *FingerprintGuard) Stop() {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	close(g.stopCh)
	g.wg.Wait()
	g.logger.Info("Fingerprint sweep stopped")
}

func (g *FingerprintGuard) sweepLoop(interval time.Duration) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			if removed := g.sweep(); removed > 0 {
				g.logger.Debug("Swept expired fingerprints", zap.Int("removed", removed))
			}
		}
	}
}

func (g *FingerprintGuard) sweep() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for fp, seen := range g.entries {
		if now.Sub(seen) >= g.window {
			delete(g.entries, fp)
			removed++
		}
	}
	return removed
}

// size reports the live entry count. Test hook.
func (g *FingerprintGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
