package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesRegisteredCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "fuse_img2heic_cache_hits_total 2")
	assert.Contains(t, body, "fuse_img2heic_cache_misses_total 1")
}

func TestNilRegistryRecordsAreNoOps(t *testing.T) {
	var m *Registry
	assert.NotPanics(t, func() {
		m.CacheHit()
		m.CacheMiss()
		m.CacheEvicted(3)
		m.CacheBytes(100)
		m.ConversionDone(0.5, nil)
	})
}
