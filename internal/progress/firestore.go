package progress

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

// FirestoreStore keeps one document per run in a collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore returns a store writing to collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

// Save implements Store.
func (s *FirestoreStore) Save(ctx context.Context, rec models.StatusRecord) error {
	if _, err := s.client.Collection(s.collection).Doc(rec.RunID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to write status for run %s: %w", rec.RunID, err)
	}
	return nil
}

// FindByArchiveHash returns the records of earlier runs of the same archive bytes.
func (s *FirestoreStore) FindByArchiveHash(ctx context.Context, hash string) ([]models.StatusRecord, error) {
	docs, err := s.client.Collection(s.collection).Where("archiveHash", "==", hash).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	recs := make([]models.StatusRecord, 0, len(docs))
	for _, doc := range docs {
		var rec models.StatusRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", doc.Ref.ID, err)
		}
		if rec.RunID == "" {
			rec.RunID = doc.Ref.ID
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Update applies field updates to the run's document outside the handle, for
// facts learned after the run went terminal such as uploaded output locations.
func (s *FirestoreStore) Update(ctx context.Context, runID string, updates []firestore.Update) error {
	if _, err := s.client.Collection(s.collection).Doc(runID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}
