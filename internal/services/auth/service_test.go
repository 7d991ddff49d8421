package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newValidationServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestValidateTokenAccepted(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		assert.Equal(t, "/api/auth/validate", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewService(server.URL, 5*time.Second, arbor.NewLogger())
	valid, err := service.ValidateToken(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, "Bearer tok-123", gotAuth.Load())
}

func TestValidateTokenRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server, _ := newValidationServer(t, status)
		service := NewService(server.URL, 5*time.Second, arbor.NewLogger())

		valid, err := service.ValidateToken(context.Background(), "tok-bad")
		require.NoError(t, err, "status %d", status)
		assert.False(t, valid, "status %d", status)
	}
}

func TestValidateTokenEmptySkipsRequest(t *testing.T) {
	server, hits := newValidationServer(t, http.StatusOK)
	service := NewService(server.URL, 5*time.Second, arbor.NewLogger())

	valid, err := service.ValidateToken(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, int64(0), hits.Load())
}

func TestValidateTokenServerError(t *testing.T) {
	server, _ := newValidationServer(t, http.StatusInternalServerError)
	service := NewService(server.URL, 5*time.Second, arbor.NewLogger())

	_, err := service.ValidateToken(context.Background(), "tok-123")
	assert.Error(t, err)
}

func TestValidateTokenUnreachableServer(t *testing.T) {
	service := NewService("http://127.0.0.1:1", time.Second, arbor.NewLogger())

	_, err := service.ValidateToken(context.Background(), "tok-123")
	assert.Error(t, err)
}
