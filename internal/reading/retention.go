package reading

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Sweeper deletes readings older than each device's retention window.
//
// Retention is per-device (retention_days on the devices table), so a
// single joined DELETE covers the whole fleet. The sweep runs on a
// fixed interval; a missed sweep just means the next one deletes more.
type Sweeper struct {
	db       *sql.DB
	interval time.Duration
	logger   Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a retention sweeper.
func NewSweeper(db *sql.DB, interval time.Duration, logger Logger) *Sweeper {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sweeper{db: db, interval: interval, logger: logger}
}

// Start begins periodic sweeping. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts sweeping and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("retention sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes expired readings once. Exposed for manual triggering.
func (s *Sweeper) Sweep(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM readings r
		USING devices d
		WHERE r.device_id = d.id
		  AND r.timestamp < now() - make_interval(days => d.retention_days)`)
	if err != nil {
		return fmt.Errorf("deleting expired readings: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("retention sweep complete", "deleted", n)
	}
	return nil
}
