// Package metrics exposes Prometheus counters for the speech pipeline.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "speech_notifier"

// Label values.
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultOK    = "ok"
	resultError = "error"
)

// Collector holds the pipeline metrics.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups     *prometheus.CounterVec
	mirrorHits       prometheus.Counter
	synthesis        *prometheus.CounterVec
	playbackJobs     *prometheus.CounterVec
	playbackDuration prometheus.Histogram
	workerStarts     prometheus.Counter
	speechOutcomes   *prometheus.CounterVec
}

// NewCollector creates a Collector backed by its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cache_lookups_total",
				Help:      "Voice cache lookups by result",
			},
			[]string{"result"},
		),
		mirrorHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_mirror_hits_total",
			Help:      "Cache misses filled from the shared mirror",
		}),
		synthesis: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "synthesis_requests_total",
				Help:      "Synthesis provider requests by result",
			},
			[]string{"result"},
		),
		playbackJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "playback_jobs_total",
				Help:      "Finished playback jobs by result",
			},
			[]string{"result"},
		),
		playbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "playback_job_duration_seconds",
			Help:      "Time from dispatch to completion of a playback job",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		workerStarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "playback_worker_starts_total",
			Help:      "Playback worker process launches",
		}),
		speechOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "speech_requests_total",
				Help:      "Speech requests by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordCacheLookup counts one cache lookup.
func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}

	result := resultMiss
	if hit {
		result = resultHit
	}

	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordMirrorHit counts a miss filled from the mirror.
func (c *Collector) RecordMirrorHit() {
	if c == nil {
		return
	}

	c.mirrorHits.Inc()
}

// RecordSynthesis counts one provider request.
func (c *Collector) RecordSynthesis(err error) {
	if c == nil {
		return
	}

	c.synthesis.WithLabelValues(resultLabel(err)).Inc()
}

// RecordPlayback counts one finished playback job.
func (c *Collector) RecordPlayback(elapsed time.Duration, err error) {
	if c == nil {
		return
	}

	c.playbackJobs.WithLabelValues(resultLabel(err)).Inc()
	c.playbackDuration.Observe(elapsed.Seconds())
}

// RecordWorkerStart counts one worker launch.
func (c *Collector) RecordWorkerStart() {
	if c == nil {
		return
	}

	c.workerStarts.Inc()
}

// RecordSpeech counts one speech request by outcome name.
func (c *Collector) RecordSpeech(outcome string) {
	if c == nil {
		return
	}

	c.speechOutcomes.WithLabelValues(outcome).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return resultError
	}

	return resultOK
}
