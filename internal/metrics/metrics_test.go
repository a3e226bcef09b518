package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Ingest(false)
	m.Ingest(true)
	m.Ingest(true)
	m.Release(false)
	m.Release(true)
	m.ThumbnailLookup(true)
	m.ThumbnailLookup(false)
	m.ThumbnailLookup(false)
	m.Heal()
	m.OrphansRemoved(3)
	m.OrphansRemoved(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("new")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingests.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases.WithLabelValues("deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases.WithLabelValues("decremented")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.thumbnailLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.thumbnailLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heals))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.orphansRemoved))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Ingest(true)
	m.Release(true)
	m.ThumbnailLookup(false)
	m.Heal()
	m.OrphansRemoved(1)
}
