// Package metrics exposes hub and channel counters at GET /metrics in the
// Prometheus text format. Families are rebuilt from live state on every
// scrape; nothing is accumulated here.
package metrics
