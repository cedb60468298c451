package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var p payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "chan-1", p.ChannelID)
		assert.Equal(t, "viewer", p.Username)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(server.URL)
	assert.NoError(t, n.Notify(context.Background(), "chan-1", "viewer"))
}

func TestNotifyAcceptsAny2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := New(server.URL)
	assert.NoError(t, n.Notify(context.Background(), "chan-1", "viewer"))
}

func TestNotifyRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := New(server.URL)
	err := n.Notify(context.Background(), "chan-1", "viewer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNotifyUnreachableEndpoint(t *testing.T) {
	n := New("http://127.0.0.1:1")
	assert.Error(t, n.Notify(context.Background(), "chan-1", "viewer"))
}

func TestNotifyDistinctRequestIDs(t *testing.T) {
	var ids []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get("X-Request-Id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(server.URL)
	require.NoError(t, n.Notify(context.Background(), "chan-1", "viewer"))
	require.NoError(t, n.Notify(context.Background(), "chan-1", "viewer"))

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestNotifyBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(server.URL)
	ctx := context.Background()

	for i := 0; i < int(breakerMaxFailures); i++ {
		assert.Error(t, n.Notify(ctx, "chan-1", "viewer"))
	}
	assert.Equal(t, int64(breakerMaxFailures), hits.Load())

	// Breaker is open: the endpoint is no longer hit.
	err := n.Notify(ctx, "chan-1", "viewer")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(breakerMaxFailures), hits.Load())
}
