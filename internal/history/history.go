package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/core"
)

// migrations run in order; schema_migrations tracks what already applied.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS job_history (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		payload_size INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		recorded_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_history_recorded_at ON job_history(recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_job_history_device ON job_history(device_id)`,
}

// Entry is one archived job row.
type Entry struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"device_id"`
	SessionID   string     `json:"session_id"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	PayloadSize int        `json:"payload_size"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

// Stats are archive totals by outcome.
type Stats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Store archives terminal jobs in sqlite. The queue itself stays in memory;
// the archive only feeds reporting and is pruned on a schedule.
type Store struct {
	db        *sql.DB
	retention time.Duration

	logger *zap.Logger
	now    func() time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Open creates or opens the archive at path and applies pending migrations.
func Open(path string, retentionDays int, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.Named("history"),
		now:       time.Now,
	}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i, stmt := range migrations {
		version := i + 1
		if version <= current {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordJob archives a terminal job snapshot.
func (s *Store) RecordJob(job *core.Job) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO job_history
		(id, device_id, session_id, priority, status, attempts, error, payload_size,
		 created_at, started_at, completed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.DeviceID,
		job.SessionID,
		job.Priority,
		string(job.Status),
		job.Attempts,
		job.Error,
		len(job.Payload),
		job.CreatedAt.UnixMilli(),
		nullableMillis(job.StartedAt),
		nullableMillis(job.CompletedAt),
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording job %s: %w", job.ID, err)
	}
	return nil
}

// Recent returns the latest archived jobs, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, device_id, session_id, priority, status, attempts,
		error, payload_size, created_at, started_at, completed_at, recorded_at
		FROM job_history ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                    Entry
			createdAt, recorded  int64
			startedAt, completed sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.SessionID, &e.Priority, &e.Status,
			&e.Attempts, &e.Error, &e.PayloadSize, &createdAt, &startedAt, &completed, &recorded); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		e.RecordedAt = time.UnixMilli(recorded)
		if startedAt.Valid {
			t := time.UnixMilli(startedAt.Int64)
			e.StartedAt = &t
		}
		if completed.Valid {
			t := time.UnixMilli(completed.Int64)
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StatsFor reports totals, optionally narrowed to one device.
func (s *Store) StatsFor(deviceID string) (Stats, error) {
	query := `SELECT status, COUNT(*) FROM job_history GROUP BY status`
	args := []interface{}{}
	if deviceID != "" {
		query = `SELECT status, COUNT(*) FROM job_history WHERE device_id = ? GROUP BY status`
		args = append(args, deviceID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("querying history stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total += count
		switch core.JobStatus(status) {
		case core.JobStatusCompleted:
			stats.Completed = count
		case core.JobStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// Start launches the prune loop. A zero retention disables pruning.
func (s *Store) Start(interval time.Duration) {
	if s.retention <= 0 {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.pruneLoop(interval)
	s.logger.Info("History prune started",
		zap.Duration("interval", interval),
		zap.Duration("retention", s.retention))
}

// Stop halts the prune loop.
func (s *Store) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("History prune stopped")
}

func (s *Store) pruneLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			removed, err := s.prune()
			if err != nil {
				s.logger.Error("History prune failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("Pruned history rows", zap.Int64("removed", removed))
			}
		}
	}
}

func (s *Store) prune() (int64, error) {
	cutoff := s.now().Add(-s.retention).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM job_history WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}

func nullableMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
