package tl2mem

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// newTestRegion creates a region against its own Prometheus registry so
// repeated Create calls across test cases never collide on the process
// global default registerer (promauto.With panics on duplicate registration).
func newTestRegion(t *testing.T, size, align int, opts ...RegionOption) *Region {
	t.Helper()
	opts = append([]RegionOption{WithRegisterer(prometheus.NewRegistry())}, opts...)
	r, err := Create(size, align, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Destroy()
	})
	return r
}
