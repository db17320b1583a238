package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/launix-de/nomad-sgd/pkg/metrics"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	reg := metrics.New(3)
	reg.SumSquaredLoss.Set(12.5)
	reg.UpdateCount.Set(4)
	reg.RoutingExhaustion.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `nomad_sum_sq_loss{rank="3"} 12.5`)
	require.Contains(t, body, `nomad_update_count{rank="3"} 4`)
	require.True(t, strings.Contains(body, "nomad_routing_exhaustion_total"))
}

func TestTwoRanksDoNotCollide(t *testing.T) {
	a := metrics.New(1)
	b := metrics.New(2)
	a.RMSE.Set(1.0)
	b.RMSE.Set(2.0)
	require.NotPanics(t, func() {
		httptest.NewRecorder()
		a.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))
		b.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))
	})
}
