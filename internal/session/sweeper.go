package session

import (
	"context"
	"time"

	"github.com/hackgods/medai-portal/internal/logger"
)

// RunSweeper closes idle sessions every interval until ctx is done.
func RunSweeper(ctx context.Context, m *Manager, interval, idle time.Duration, log *logger.Logger) error {
	entry := log.WithComponent("session_sweeper")
	entry.WithField("interval", interval.String()).WithField("idle_ttl", idle.String()).Info("session sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			entry.Info("shutdown signal received, stopping session sweeper")
			return nil
		case <-ticker.C:
			start := time.Now()
			closed := m.Sweep(idle)
			entry.WithField("closed", closed).WithField("took", time.Since(start).String()).Debug("sweep complete")
		}
	}
}
