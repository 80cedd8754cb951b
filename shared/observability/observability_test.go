package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupMetricsServesOtelInstruments(t *testing.T) {
	handler, shutdown, err := SetupMetrics("diagnosai-test")
	require.NoError(t, err)
	t.Cleanup(func() { shutdown(context.Background()) })

	counter, err := otel.Meter("test").Int64Counter("probe_events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "probe_events_total")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
