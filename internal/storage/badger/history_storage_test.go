package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

func newTestStorage(t *testing.T) interfaces.HistoryStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewHistoryStorage(db, logger)
}

func TestSaveAndGetRecord(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	record := &models.SessionRecord{
		SessionID:  "sess_1700000000000_abcd1234",
		URL:        "https://example.com",
		State:      models.SessionCompleted,
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		PageCount:  4,
	}
	require.NoError(t, storage.SaveRecord(ctx, record))

	got, err := storage.GetRecord(ctx, record.SessionID)
	require.NoError(t, err)
	assert.Equal(t, record.URL, got.URL)
	assert.Equal(t, models.SessionCompleted, got.State)
	assert.Equal(t, 4, got.PageCount)
}

func TestSaveRecordRequiresSessionID(t *testing.T) {
	storage := newTestStorage(t)

	err := storage.SaveRecord(context.Background(), &models.SessionRecord{URL: "https://example.com"})
	assert.Error(t, err)
}

func TestGetRecordNotFound(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.GetRecord(context.Background(), "sess_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestUpsertUpdatesExistingRecord(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	record := &models.SessionRecord{
		SessionID:  "sess_1700000000000_abcd1234",
		URL:        "https://example.com",
		State:      models.SessionCompleted,
		FinishedAt: time.Now(),
	}
	require.NoError(t, storage.SaveRecord(ctx, record))

	// SEO augmentation re-saves the same session
	record.SEOAttached = true
	require.NoError(t, storage.SaveRecord(ctx, record))

	got, err := storage.GetRecord(ctx, record.SessionID)
	require.NoError(t, err)
	assert.True(t, got.SEOAttached)

	records, err := storage.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListRecentOrderAndLimit(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		record := &models.SessionRecord{
			SessionID:  fmt.Sprintf("sess_%d_test", i),
			URL:        fmt.Sprintf("https://example.com/%d", i),
			State:      models.SessionCompleted,
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, storage.SaveRecord(ctx, record))
	}

	records, err := storage.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Most recently finished first
	assert.Equal(t, "sess_4_test", records[0].SessionID)
	assert.Equal(t, "sess_3_test", records[1].SessionID)
	assert.Equal(t, "sess_2_test", records[2].SessionID)
}
