package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	worldLabel = "world"
)

var (
	worldBodyCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "world_body_count",
		Help: "The number of bodies in a world.",
	}, []string{worldLabel})

	worldFrameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "world_frame_latency",
		Help:    "The time to step a world and run its frame handlers.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{worldLabel})

	worldQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "world_query_latency",
		Help:    "The time to query the bodies overlapping an area.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
	}, []string{worldLabel})
)

func instrumentIncreaseBodyGauge(world string) {
	worldBodyCount.
		With(prometheus.Labels{worldLabel: world}).
		Inc()
}

func instrumentDecreaseBodyGauge(world string) {
	worldBodyCount.
		With(prometheus.Labels{worldLabel: world}).
		Dec()
}

func instrumentResetBodyGauge(world string) {
	worldBodyCount.
		With(prometheus.Labels{worldLabel: world}).
		Set(0)
}

func instrumentFrameLatency(world string, start time.Time) {
	worldFrameLatency.
		With(prometheus.Labels{worldLabel: world}).
		Observe(time.Since(start).Seconds())
}

func instrumentQueryLatency(world string, start time.Time) {
	worldQueryLatency.
		With(prometheus.Labels{worldLabel: world}).
		Observe(time.Since(start).Seconds())
}
