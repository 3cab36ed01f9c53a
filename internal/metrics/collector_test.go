package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTracksEngineEvents(t *testing.T) {
	c := NewCollector("branchdown")

	c.StreamCreated()
	c.PointAdded(false)
	c.PointAdded(true)
	c.StreamCreated()
	c.StreamDeleted(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.StreamsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StreamsDeleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PointsAdded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BranchesForked))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LiveStreams))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.LivePoints))

	c.Restored(5, 12)
	assert.Equal(t, 5.0, testutil.ToFloat64(c.LiveStreams))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.LivePoints))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("branchdown")
	b := NewCollector("branchdown")
	a.StreamCreated()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StreamsCreated))
}

func TestHandlerExposesHTTPMetrics(t *testing.T) {
	c := NewCollector("branchdown")
	c.RecordHTTPRequest(http.MethodPost, "/api/streams", http.StatusOK, 3*time.Millisecond)
	c.RecordRateLimited()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `branchdown_http_requests_total{method="POST",route="/api/streams",status="200"} 1`))
	assert.True(t, strings.Contains(body, "branchdown_rate_limited_requests_total 1"))
}

func TestLivePointsDropWithDeletedStream(t *testing.T) {
	c := NewCollector("branchdown")
	c.StreamCreated()
	for i := 0; i < 3; i++ {
		c.PointAdded(i > 0)
	}
	require.Equal(t, 4.0, testutil.ToFloat64(c.LivePoints))

	c.StreamDeleted(4)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.LiveStreams))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.LivePoints))
}
