// Package progress holds the per-run status record that observers poll. A Store is
// last-writer-wins state keyed by run id; a Handle is the run's owned record plus a
// mutex-protected slot the worker publishes through.
package progress

import (
	"context"
	"errors"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

// Store persists the latest status record of a run.
type Store interface {
	Save(ctx context.Context, rec models.StatusRecord) error
}

// Tee fans a record out to several stores. All stores are attempted.
type Tee []Store

// Save implements Store.
func (t Tee) Save(ctx context.Context, rec models.StatusRecord) error {
	var errs []error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

// Save implements Store.
func (Discard) Save(context.Context, models.StatusRecord) error { return nil }
