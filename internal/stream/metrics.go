package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "talatrivia_stream_clients",
		Help: "Currently connected stream subscribers.",
	})

	metricStreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talatrivia_stream_events_total",
		Help: "Events delivered to stream subscribers, by event type.",
	}, []string{"type"})

	metricStreamDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talatrivia_stream_events_dropped_total",
		Help: "Events dropped because a subscriber queue was full, by event type.",
	}, []string{"type"})
)
