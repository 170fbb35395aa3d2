package core

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestTable(retention time.Duration, at time.Time) *CorrelationTable {
	tbl := NewCorrelationTable(retention, zap.NewNop())
	tbl.now = func() time.Time { return at }
	return tbl
}

func TestCorrelationRoundTrip(t *testing.T) {
	tbl := newTestTable(24*time.Hour, time.UnixMilli(1_700_000_000_000))

	tbl.Register("job-1", "vendor-9001", "dev-a")

	if jobID, ok := tbl.JobFor("vendor-9001"); !ok || jobID != "job-1" {
		t.Fatalf("JobFor: expected job-1, got %q ok=%v", jobID, ok)
	}
	if vendorID, ok := tbl.VendorOrderFor("job-1"); !ok || vendorID != "vendor-9001" {
		t.Fatalf("VendorOrderFor: expected vendor-9001, got %q ok=%v", vendorID, ok)
	}
	if dev, ok := tbl.DeviceFor("job-1"); !ok || dev != "dev-a" {
		t.Fatalf("DeviceFor(job): expected dev-a, got %q ok=%v", dev, ok)
	}
	if dev, ok := tbl.DeviceFor("vendor-9001"); !ok || dev != "dev-a" {
		t.Fatalf("DeviceFor(vendor): expected dev-a, got %q ok=%v", dev, ok)
	}
	if _, ok := tbl.JobFor("vendor-unknown"); ok {
		t.Fatalf("unknown vendor id must not resolve")
	}
}

func TestCorrelationRegisterIdempotent(t *testing.T) {
	tbl := newTestTable(24*time.Hour, time.UnixMilli(1_700_000_000_000))

	tbl.Register("job-1", "vendor-9001", "dev-a")
	tbl.Register("job-1", "vendor-9001", "dev-a")

	stats := tbl.Stats()
	if stats.Entries != 1 {
		t.Fatalf("expected 1 entry after re-register, got %d", stats.Entries)
	}
}

func TestCorrelationReassignmentLastWriteWins(t *testing.T) {
	tbl := newTestTable(24*time.Hour, time.UnixMilli(1_700_000_000_000))

	tbl.Register("job-1", "vendor-9001", "dev-a")
	tbl.Register("job-1", "vendor-9002", "dev-a")

	if _, ok := tbl.JobFor("vendor-9001"); ok {
		t.Fatalf("old vendor id must be dropped with its pair")
	}
	if jobID, ok := tbl.JobFor("vendor-9002"); !ok || jobID != "job-1" {
		t.Fatalf("expected job-1 under new vendor id, got %q ok=%v", jobID, ok)
	}
	if vendorID, ok := tbl.VendorOrderFor("job-1"); !ok || vendorID != "vendor-9002" {
		t.Fatalf("expected vendor-9002, got %q ok=%v", vendorID, ok)
	}
	if stats := tbl.Stats(); stats.Entries != 1 {
		t.Fatalf("expected 1 entry, got %d", stats.Entries)
	}
}

func TestCorrelationVendorIDTakeover(t *testing.T) {
	tbl := newTestTable(24*time.Hour, time.UnixMilli(1_700_000_000_000))

	tbl.Register("job-1", "vendor-9001", "dev-a")
	tbl.Register("job-2", "vendor-9001", "dev-b")

	if _, ok := tbl.VendorOrderFor("job-1"); ok {
		t.Fatalf("displaced job must lose its mapping")
	}
	if jobID, ok := tbl.JobFor("vendor-9001"); !ok || jobID != "job-2" {
		t.Fatalf("expected job-2, got %q ok=%v", jobID, ok)
	}
}

func TestCorrelationReapHonorsRetention(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	tbl := newTestTable(24*time.Hour, base)

	tbl.Register("job-1", "vendor-9001", "dev-a")

	// Fresh enough: kept.
	tbl.now = func() time.Time { return base.Add(23 * time.Hour) }
	if removed := tbl.reap(); removed != 0 {
		t.Fatalf("expected nothing reaped at 23h, removed %d", removed)
	}
	if _, ok := tbl.JobFor("vendor-9001"); !ok {
		t.Fatalf("entry must survive inside retention")
	}

	// Past retention: the pair goes atomically.
	tbl.now = func() time.Time { return base.Add(25 * time.Hour) }
	if removed := tbl.reap(); removed != 1 {
		t.Fatalf("expected 1 reaped at 25h, removed %d", removed)
	}
	if _, ok := tbl.JobFor("vendor-9001"); ok {
		t.Fatalf("vendor side must be gone after reap")
	}
	if _, ok := tbl.VendorOrderFor("job-1"); ok {
		t.Fatalf("job side must be gone after reap")
	}
	if _, ok := tbl.DeviceFor("job-1"); ok {
		t.Fatalf("device tag must be gone after reap")
	}
}

func TestCorrelationStats(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	tbl := newTestTable(24*time.Hour, base)

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		tbl.now = func() time.Time { return at }
		tbl.Register(fmt.Sprintf("job-%d", i), fmt.Sprintf("vendor-%d", i), "dev-a")
	}

	tbl.now = func() time.Time { return base.Add(5 * time.Hour) }
	stats := tbl.Stats()
	if stats.Entries != 3 {
		t.Fatalf("expected 3 entries, got %d", stats.Entries)
	}
	if stats.OldestAge != 5*time.Hour {
		t.Fatalf("expected oldest age 5h, got %s", stats.OldestAge)
	}
}
