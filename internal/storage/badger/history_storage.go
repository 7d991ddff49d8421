package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// HistoryStorage implements the HistoryStorage interface for Badger
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

// SaveRecord upserts one session record keyed by session id. Re-saving after
// the SEO augmentation attaches updates the existing record in place.
func (s *HistoryStorage) SaveRecord(ctx context.Context, record *models.SessionRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("session record requires a session id")
	}

	if err := s.db.Store().Upsert(record.SessionID, record); err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}
	return nil
}

// GetRecord returns the record for one session.
func (s *HistoryStorage) GetRecord(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var record models.SessionRecord
	if err := s.db.Store().Get(sessionID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("session record not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	return &record, nil
}

// ListRecent returns up to limit records, most recently finished first.
func (s *HistoryStorage) ListRecent(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	var records []models.SessionRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	result := make([]*models.SessionRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
