package tl2mem

import (
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

// RegionOption configures a Region at Create time, following the teacher's
// functional-options pattern (wal.go's walOpt).
type RegionOption func(*Region)

// WithLogger sets the structured logger the region and its transactions
// log key events through. Logging itself is an out-of-scope external
// collaborator (spec.md §1): the region only ever emits structured
// key-value pairs through this interface, never formats or prints region
// contents itself. Defaults to a no-op logger.
func WithLogger(logger log.Logger) RegionOption {
	return func(r *Region) { r.logger = logger }
}

// WithRegisterer sets the Prometheus registerer metrics are registered
// against. Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) RegionOption {
	return func(r *Region) { r.promReg = reg }
}

// WithMetricsNamespace sets the Prometheus metric namespace prefix.
// Defaults to "tl2mem".
func WithMetricsNamespace(ns string) RegionOption {
	return func(r *Region) { r.metricsNamespace = ns }
}
