// Package metrics exposes the Prometheus counters and histograms the request
// handler and UDP peer manager update as they run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal tracks total DNS queries processed, by question type and
	// final response code.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mindns_queries_total",
		Help: "Total number of DNS queries processed",
	}, []string{"qtype", "rcode"})

	// QueryDuration tracks how long the request handler spent on a query,
	// broken out by how the reply was produced.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mindns_query_duration_seconds",
		Help:    "Histogram of query processing duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// ActivePeers tracks the number of open per-remote-peer sessions across
	// all listening sockets.
	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mindns_active_peers",
		Help: "Number of currently tracked UDP peer sessions",
	})

	// RulesLoaded tracks how many rules are currently active, refreshed on
	// every load and reload.
	RulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mindns_rules_loaded",
		Help: "Number of rules currently loaded",
	})
)
