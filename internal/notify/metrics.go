package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "investigator",
		Subsystem: "notify",
		Name:      "events_published_total",
		Help:      "Events accepted by the hub, by kind",
	}, []string{"kind"})

	// Labels: reason (slow_subscriber, throttled, relay_full, relay_closed, relay_error, relay_open)
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "investigator",
		Subsystem: "notify",
		Name:      "events_dropped_total",
		Help:      "Events not delivered, by reason",
	}, []string{"reason"})

	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "investigator",
		Subsystem: "notify",
		Name:      "subscribers",
		Help:      "Currently connected live-event subscribers",
	})
)
