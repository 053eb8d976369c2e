// SPDX-License-Identifier: MIT
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "dsoscope"
	subsystem = "snapshot"
)

var (
	payloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "payloads_total",
		Help:      "Payload chunks delivered to the snapshot.",
	})

	samplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "samples_total",
		Help:      "Samples per channel delivered to the snapshot.",
	})

	droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "dropped_frames_total",
		Help:      "Frames held back by the trigger gate or a full snapshot.",
	})

	setupFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "setup_failures_total",
		Help:      "Snapshot setups rolled back after an allocation failure.",
	})

	snapshotSamples = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "samples",
		Help:      "Valid samples per channel currently held.",
	})

	memoryInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "memory_in_use_bytes",
		Help:      "Bytes reserved by snapshot buffers.",
	})

	appendSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_seconds",
		Help:      "Time spent ingesting one payload, envelope folding included.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	})
)

// Registry holds every collector of this package and nothing else.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		payloadsTotal,
		samplesTotal,
		droppedFrames,
		setupFailures,
		snapshotSamples,
		memoryInUse,
		appendSeconds,
	)
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// PayloadDelivered records one ingested chunk of samples and the time it took.
func PayloadDelivered(samples int, start time.Time) {
	payloadsTotal.Inc()
	samplesTotal.Add(float64(samples))
	appendSeconds.Observe(time.Since(start).Seconds())
}

// FrameDropped records a frame that did not reach the snapshot.
func FrameDropped() {
	droppedFrames.Inc()
}

// SetupFailed records a rolled back snapshot setup.
func SetupFailed() {
	setupFailures.Inc()
}

// ObserveSnapshot updates the fill and memory gauges.
func ObserveSnapshot(samples, memoryBytes uint64) {
	snapshotSamples.Set(float64(samples))
	memoryInUse.Set(float64(memoryBytes))
}
