// Package metrics holds the prometheus collectors the cache, inode
// table, and allocator report into: plain counters/gauges registered
// once at package init and updated inline by the hot path, with no
// exporter machinery beyond the registry and the Serve helper that
// exposes it over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sectorfs",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Buffer cache lookups that found a valid entry for the sector.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sectorfs",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Buffer cache lookups that required a disk read.",
	})
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sectorfs",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Buffer cache entries reclaimed by the clock algorithm.",
	})
	CacheFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sectorfs",
		Subsystem: "cache",
		Name:      "flushes_total",
		Help:      "Dirty buffer cache entries written back to the device.",
	})
	CacheDirtyEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sectorfs",
		Subsystem: "cache",
		Name:      "dirty_entries",
		Help:      "Buffer cache entries currently dirty.",
	})
	OpenInodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sectorfs",
		Subsystem: "inode",
		Name:      "open_handles",
		Help:      "Distinct on-disk inodes currently held open in the in-memory table.",
	})
	FreeSectors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sectorfs",
		Subsystem: "alloc",
		Name:      "free_sectors",
		Help:      "Sectors not currently allocated to any inode.",
	})
)

// Registry is the collector registry cmd/sectorfs serves over
// --metrics-addr. It is a private registry rather than prometheus's
// process-wide default; every collector above is registered into it
// at package init.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(CacheHits, CacheMisses, CacheEvictions, CacheFlushes, CacheDirtyEntries, OpenInodes, FreeSectors)
}

// Serve blocks, exposing Registry over /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
