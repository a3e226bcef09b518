// Package metrics defines the Prometheus collectors the services update.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "imagestore"

type Metrics struct {
	ingests          *prometheus.CounterVec
	releases         *prometheus.CounterVec
	thumbnailLookups *prometheus.CounterVec
	heals            prometheus.Counter
	orphansRemoved   prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ingests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Accepted uploads by outcome (new content or duplicate).",
		}, []string{"outcome"}),
		releases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Release requests by outcome (decremented or deleted).",
		}, []string{"outcome"}),
		thumbnailLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_lookups_total",
			Help:      "Thumbnail cache lookups by result.",
		}, []string{"result"}),
		heals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corruption_heals_total",
			Help:      "Image records removed because their stored file was missing.",
		}),
		orphansRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_files_removed_total",
			Help:      "Stored files deleted by reconciliation because no record referenced them.",
		}),
	}
}

func (m *Metrics) Ingest(duplicate bool) {
	if m == nil {
		return
	}
	if duplicate {
		m.ingests.WithLabelValues("duplicate").Inc()
	} else {
		m.ingests.WithLabelValues("new").Inc()
	}
}

func (m *Metrics) Release(deleted bool) {
	if m == nil {
		return
	}
	if deleted {
		m.releases.WithLabelValues("deleted").Inc()
	} else {
		m.releases.WithLabelValues("decremented").Inc()
	}
}

func (m *Metrics) ThumbnailLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.thumbnailLookups.WithLabelValues("hit").Inc()
	} else {
		m.thumbnailLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Heal() {
	if m == nil {
		return
	}
	m.heals.Inc()
}

func (m *Metrics) OrphansRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphansRemoved.Add(float64(n))
}
