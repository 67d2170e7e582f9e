package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically purges entries that are expired past their grace
// window, keeping durable backends from growing without bound.
type Janitor struct {
	cron    *cron.Cron
	backend *SQLiteBackend
	grace   time.Duration
}

// NewJanitor creates a janitor over a SQLite backend. grace should be the
// longest grace window of any tier sharing the backend, so stale-but-
// servable entries are never purged early.
func NewJanitor(backend *SQLiteBackend, grace time.Duration) *Janitor {
	return &Janitor{
		cron:    cron.New(),
		backend: backend,
		grace:   grace,
	}
}

// Start schedules the sweep. The spec string follows standard cron syntax;
// an empty string sweeps hourly.
func (j *Janitor) Start(spec string) error {
	if spec == "" {
		spec = "0 * * * *"
	}
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.grace)
	n, err := j.backend.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		slog.Warn("cache sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("cache sweep removed expired entries", "count", n)
	}
}
