// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	eventsDispatched *prometheus.CounterVec
	echoSuppressed   *prometheus.CounterVec
	moduleFailures   *prometheus.CounterVec
	chunksSent       *prometheus.CounterVec
	polledMessages   prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		eventsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discordlink",
			Name:      "events_dispatched_total",
			Help:      "Total number of events passed to modules after echo checks.",
		}, []string{"kind"}),
		echoSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discordlink",
			Name:      "echo_suppressed_total",
			Help:      "Total number of events dropped by echo prevention.",
		}, []string{"origin"}),
		moduleFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discordlink",
			Name:      "module_failures_total",
			Help:      "Total number of module reactions that returned an error or panicked.",
		}, []string{"module"}),
		chunksSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discordlink",
			Name:      "chunks_sent_total",
			Help:      "Total number of message chunks sent to the remote network.",
		}, []string{"result"}),
		polledMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "discordlink",
			Name:      "polled_messages_total",
			Help:      "Total number of local messages delivered by the poller.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
