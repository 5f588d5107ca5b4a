// Package ledger keeps a write-only SQLite log of the recorder's sessions,
// finished jobs and status snapshots.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/simrecorder/recorder/internal/lifecycle"
)

// Config holds ledger settings.
type Config struct {
	// Path is the SQLite file the ledger ends up in.
	Path string
	// DumpInterval > 0 keeps the database in memory and copies it to Path
	// on that interval and at Close. Zero writes to Path directly.
	DumpInterval time.Duration
	SessionID    string
}

// Ledger serializes all writes through one mutex; SQLite allows a single writer.
type Ledger struct {
	cfg    Config
	db     *gorm.DB
	sqlDB  *sql.DB
	logger zerolog.Logger

	mu       sync.Mutex
	closing  bool
	closed   bool
	stopChan chan struct{}
	loopDone chan struct{}
}

// Open creates or opens the ledger database and migrates its schema.
func Open(cfg Config, log zerolog.Logger) (*Ledger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger path not set")
	}

	dsn := cfg.Path
	if cfg.DumpInterval > 0 {
		dsn = "file::memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger DB: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	// every connection to file::memory: is its own database
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -8000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if err := db.AutoMigrate(Models...); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}

	l := &Ledger{
		cfg:      cfg,
		db:       db,
		sqlDB:    sqlDB,
		logger:   log.With().Str("component", "ledger").Logger(),
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if cfg.DumpInterval > 0 {
		go l.dumpLoop()
		l.logger.Info().Str("path", cfg.Path).Dur("interval", cfg.DumpInterval).Msg("Using in-memory ledger with periodic disk dump")
	} else {
		close(l.loopDone)
		l.logger.Info().Str("path", cfg.Path).Msg("Using ledger file")
	}

	return l, nil
}

// BeginSession stores the session row. config is stored as JSON.
func (l *Ledger) BeginSession(started time.Time, version string, config any) error {
	cfgJSON, err := toJSON(config)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("ledger closed")
	}

	return l.db.Create(&Session{
		ID:              l.cfg.SessionID,
		StartedAt:       started,
		RecorderVersion: version,
		Config:          cfgJSON,
	}).Error
}

// Record stores a finished job. It is meant to run as a lifecycle completion
// hook, so failures are logged instead of returned.
func (l *Ledger) Record(r lifecycle.Result) {
	row := JobRecord{
		SessionID:  l.cfg.SessionID,
		Engine:     r.Engine,
		Kind:       r.Kind,
		JobID:      r.JobID,
		Target:     r.Target,
		Items:      r.Report.Items,
		Bytes:      r.Report.Bytes,
		DurationMs: float64(r.Duration().Microseconds()) / 1000,
		SpawnedAt:  r.SpawnedAt,
		FinishedAt: r.Finished,
		Meta:       datatypes.JSON("{}"),
	}
	if r.Err != nil {
		row.Failed = true
		row.Error = r.Err.Error()
	}
	if r.Report.Items == 0 && r.Err == nil {
		row.Meta = datatypes.JSON(`{"skipped":true}`)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if err := l.db.Create(&row).Error; err != nil {
		l.logger.Error().Err(err).Str("engine", r.Engine).Uint64("job", r.JobID).Msg("Failed to write job record")
	}
}

// RecordStatus stores a status snapshot.
func (l *Ledger) RecordStatus(s StatusSnapshot) error {
	if s.SessionID == "" {
		s.SessionID = l.cfg.SessionID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("ledger closed")
	}
	return l.db.Create(&s).Error
}

// CountJobs returns the number of job rows for engine, or all rows when
// engine is empty.
func (l *Ledger) CountJobs(engine string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	q := l.db.Model(&JobRecord{})
	if engine != "" {
		q = q.Where("engine = ?", engine)
	}
	err := q.Count(&n).Error
	return n, err
}

// Close marks the session ended, writes the final dump and closes the database.
func (l *Ledger) Close(ended time.Time) error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return nil
	}
	l.closing = true
	close(l.stopChan)
	l.mu.Unlock()

	<-l.loopDone

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true

	err := l.db.Model(&Session{}).Where("id = ?", l.cfg.SessionID).Update("ended_at", ended).Error
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to mark session ended")
	}

	if l.cfg.DumpInterval > 0 {
		if err := l.dumpLocked(); err != nil {
			l.sqlDB.Close()
			return err
		}
	}

	if err := l.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close ledger DB: %w", err)
	}
	return nil
}

func (l *Ledger) dumpLoop() {
	defer close(l.loopDone)

	ticker := time.NewTicker(l.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			l.mu.Lock()
			err := l.dumpLocked()
			l.mu.Unlock()
			if err != nil {
				l.logger.Error().Err(err).Msg("Error dumping ledger to disk")
			} else {
				l.logger.Debug().Dur("duration", time.Since(start)).Msg("Dumped ledger to disk")
			}
		}
	}
}

// dumpLocked copies the in-memory database to the configured path.
// VACUUM INTO refuses to overwrite, so the previous dump is removed first.
func (l *Ledger) dumpLocked() error {
	if _, err := os.Stat(l.cfg.Path); err == nil {
		if err := os.Remove(l.cfg.Path); err != nil {
			return fmt.Errorf("error removing existing ledger file: %w", err)
		}
	}

	if err := l.db.Exec("VACUUM INTO ?", l.cfg.Path).Error; err != nil {
		return fmt.Errorf("error dumping ledger to disk: %w", err)
	}
	return nil
}

func toJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON("{}"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session config: %w", err)
	}
	return datatypes.JSON(data), nil
}
