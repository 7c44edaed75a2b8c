// Package retention deletes expired run directories. It runs beside the pipeline on
// its own ticker and never touches a run the caller reports as active.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sweeper removes entries older than MaxAge directly under each root.
type Sweeper struct {
	Roots  []string
	MaxAge time.Duration
	// Active, when set, protects entries by name (run ids) from deletion.
	Active func(name string) bool
	Logger *slog.Logger
}

// Sweep deletes every file or directory under the roots whose modification time is
// older than now minus MaxAge and returns how many were removed. A missing root is
// not an error.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cutoff := now.Add(-s.MaxAge)

	removed := 0
	var errs []error
	for _, root := range s.Roots {
		entries, err := os.ReadDir(root)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list %s: %w", root, err))
			continue
		}
		for _, e := range entries {
			if s.Active != nil && s.Active(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(root, e.Name())
			if err := os.RemoveAll(path); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
				continue
			}
			removed++
			logger.Debug("Removed expired entry.", "path", path, "modTime", info.ModTime())
		}
	}
	return removed, errors.Join(errs...)
}

// Run sweeps once immediately and then on every tick of interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sweep := func() {
		n, err := s.Sweep(time.Now())
		if err != nil {
			logger.Error("Retention sweep failed.", "error", err)
		}
		if n > 0 {
			logger.Info("Retention sweep removed expired entries.", "count", n, "maxAge", s.MaxAge.String())
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
