package interfaces

import (
	"context"

	"github.com/ternarybob/vigil/internal/models"
)

// TokenValidator gates the authenticated transport. An invalid token
// short-circuits before any stream is opened.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// IPLookup resolves the client's public IP used to enrich the stream request.
// Failure is non-fatal; the field is simply omitted.
type IPLookup interface {
	LookupIP(ctx context.Context) (string, error)
}

// HistoryStorage persists finished sessions locally. Best-effort: callers
// log write failures and move on.
type HistoryStorage interface {
	SaveRecord(ctx context.Context, record *models.SessionRecord) error
	GetRecord(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.SessionRecord, error)
}
