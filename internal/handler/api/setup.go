package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"ChartFeed/internal/service/metrics"
	"ChartFeed/internal/service/resample"
	xhttp "ChartFeed/pkg/http"
)

// Setup registers the API collectors and the `timeframe` validation tag.
// It must run before the handlers serve requests.
func Setup(reg prometheus.Registerer) error {
	metrics.Register(reg)
	return xhttp.RegisterValidation("timeframe", resample.IsValid)
}
