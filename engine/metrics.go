package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_dispatch_duration_sec",
	Help: "Total duration of event dispatch, including all listeners",
}, []string{"kind"})

var dispatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_dispatch_events",
	Help: "Number of events dispatched",
}, []string{"kind"})

var listenerCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_listener_runs",
	Help: "Number of module listener invocations, by outcome",
}, []string{"module", "kind", "status"})

var listenerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_listener_duration_sec",
	Help: "Duration of module listener invocations",
}, []string{"module"})
