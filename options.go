package fabtsuite

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fabtsuite/fabtsuite/internal/logging"
)

// Options carries the ambient dependencies Run needs beyond Params. A
// nil field takes the package default.
type Options struct {
	// Context, if set, overrides the ctx passed to Run.
	Context context.Context

	// Logger defaults to logging.Default().
	Logger *logging.Logger

	// Metrics defaults to a freshly constructed Metrics; supply one to
	// share counters across multiple Run calls in the same process.
	Metrics *Metrics

	// Registry is passed to NewMetrics when Metrics is nil. Left nil,
	// metrics are created but never registered anywhere.
	Registry prometheus.Registerer
}
