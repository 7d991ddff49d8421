package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSessionID generates a unique client-side session identifier.
// Format: sess_<unix-millis>_<uuid fragment>
//
// The timestamp prefix keeps ids sortable by creation time; the random
// suffix makes collisions within one client vanishingly unlikely.
func NewSessionID() string {
	return fmt.Sprintf("sess_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}
