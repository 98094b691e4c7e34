// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import "github.com/prometheus/client_golang/prometheus"

// Load results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Manifest cache outcomes.
const (
	CacheHit         = "hit"
	CacheMiss        = "miss"
	CacheStale       = "stale"
	CacheStaleServed = "stale_served"
	CacheDeveloper   = "developer"
)

// Metrics contains the module pipeline metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	ModuleLoads   *prometheus.CounterVec
	ManifestCache *prometheus.CounterVec
	OAuthRefresh  *prometheus.CounterVec
	InflightLoads prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModuleLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicekit_module_loads_total",
				Help: "Total number of module loads by result",
			},
			[]string{"result"},
		),
		ManifestCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicekit_manifest_cache_total",
				Help: "Total number of manifest lookups by cache outcome",
			},
			[]string{"outcome"},
		),
		OAuthRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicekit_oauth_refresh_total",
				Help: "Total number of OAuth2 credential refreshes by result",
			},
			[]string{"result"},
		),
		InflightLoads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "devicekit_inflight_loads",
				Help: "Number of module loads currently running",
			},
		),
	}
	reg.MustRegister(m.ModuleLoads, m.ManifestCache, m.OAuthRefresh, m.InflightLoads)
	return m
}

// RecordLoad counts a finished module load.
func (m *Metrics) RecordLoad(err error) {
	if m == nil {
		return
	}
	m.ModuleLoads.WithLabelValues(result(err)).Inc()
}

// RecordManifest counts a manifest lookup outcome.
func (m *Metrics) RecordManifest(outcome string) {
	if m == nil {
		return
	}
	m.ManifestCache.WithLabelValues(outcome).Inc()
}

// RecordRefresh counts a credential refresh.
func (m *Metrics) RecordRefresh(err error) {
	if m == nil {
		return
	}
	m.OAuthRefresh.WithLabelValues(result(err)).Inc()
}

// LoadStarted marks a load as running. The returned func marks it done.
func (m *Metrics) LoadStarted() func() {
	if m == nil {
		return func() {}
	}
	m.InflightLoads.Inc()
	return m.InflightLoads.Dec
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
