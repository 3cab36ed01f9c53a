package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"branchdown/internal/api"
	"branchdown/internal/engine"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(api.NewServer(engine.New(engine.Options{}), api.Options{}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestScenarios(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	// A: a new stream holds only its root.
	s, err := c.CreateStream(ctx)
	require.NoError(t, err)
	points, err := c.GetStreamPoints(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, points, 1)
	root := points[0]
	assert.Nil(t, root.ParentID)
	assert.Equal(t, 0, root.Depth)

	// B: the first child continues branch 0.
	first, err := c.AddPoint(ctx, root.ID, "item-001")
	require.NoError(t, err)
	assert.Equal(t, 0, first.BranchNum)
	points, err = c.GetStreamPoints(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	// C: a sibling forks branch 1.
	second, err := c.AddPoint(ctx, root.ID, "item-002")
	require.NoError(t, err)
	assert.Equal(t, 1, second.BranchNum)
	branch1, err := c.GetBranchPoints(ctx, s.ID, 1, NoDepthFilter)
	require.NoError(t, err)
	require.Len(t, branch1, 1)
	assert.Equal(t, "item-002", *branch1[0].ItemID)

	// D: depth filtering.
	all, err := c.GetBranchPoints(ctx, s.ID, 0, NoDepthFilter)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	deeper, err := c.GetBranchPoints(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, deeper, 1)
	assert.Equal(t, first.ID, deeper[0].ID)

	// E: a missing item id never reaches the server.
	_, err = c.AddPoint(ctx, root.ID, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, IsRetryable(err))
	points, err = c.GetStreamPoints(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, points, 3)

	chain, err := c.GetAncestors(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, second.ID, chain[0].ID)

	// F: deletion.
	require.NoError(t, c.DeleteStream(ctx, s.ID))
	_, err = c.GetStream(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsRetryable(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("localhost:8080")
	assert.Error(t, err)
	_, err = New("/api")
	assert.Error(t, err)
}

func TestMalformedEnvelopeIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.GetStream(context.Background(), 1)
	require.Error(t, err)

	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.True(t, IsRetryable(err))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRetryableEnvelopeFailures(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusConflict, true},
		{http.StatusNotFound, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"success":false,"message":"nope","data":null}`))
			}))
			defer srv.Close()

			c, err := New(srv.URL)
			require.NoError(t, err)
			_, err = c.CreateStream(context.Background())

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestBreakerTripsOnlyOnTransportFailures(t *testing.T) {
	var calls atomic.Int32
	var broken atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if broken.Load() {
			_, _ = w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"stream 1 not found","data":null}`))
	}))
	defer srv.Close()

	settings := DefaultBreakerSettings("test")
	settings.Timeout = time.Hour
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 }
	c, err := New(srv.URL, WithBreakerSettings(settings), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.GetStream(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())

	broken.Store(true)
	for i := 0; i < 2; i++ {
		_, err := c.GetStream(ctx, 1)
		assert.True(t, IsRetryable(err))
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	before := calls.Load()
	_, err = c.GetStream(ctx, 1)
	assert.True(t, IsCircuitOpen(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, before, calls.Load())
}

func TestContextCancellation(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CreateStream(ctx)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
}
