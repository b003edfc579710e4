package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterRecordsAndServesMetrics(t *testing.T) {
	e := New()

	e.RecordProviderCall("openai", "chat", 0.25, true)
	e.RecordProviderCall("openai", "chat", 1.5, false)
	e.SetRateLimiterQueueDepth(3)
	e.SetWSSubscribers(7)
	e.RecordIngestedEvent(true)
	e.RecordIngestedEvent(false)
	e.RecordForwardedEvent()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "relaywatch_provider_calls_total")
	assert.Contains(t, body, "relaywatch_mtproto_rate_limiter_queue_depth 3")
	assert.Contains(t, body, "relaywatch_api_ws_subscribers 7")
	assert.True(t, strings.Contains(body, "relaywatch_monitor_ingested_events_total"))
	assert.Contains(t, body, "relaywatch_monitor_forwarded_events_total 1")
}
