package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_events_received",
	Help: "Number of message events received",
})

var eventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_events_duplicate",
	Help: "Number of message events skipped as duplicates",
})

var eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_events_failed",
	Help: "Number of message events that failed durable processing",
})

var messagesClassified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_messages_classified",
	Help: "Number of messages classified, by verdict severity",
}, []string{"severity"})

var takedownsBroken = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_takedowns_circuit_broken",
	Help: "Number of hard deletes downgraded by the daily takedown circuit breaker",
})

var asyncTasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_async_tasks_submitted",
	Help: "Number of async side-effect tasks submitted",
}, []string{"task"})

var asyncTasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_async_tasks_failed",
	Help: "Number of async side-effect tasks that exhausted retries",
}, []string{"task"})

var asyncTasksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_async_tasks_dropped",
	Help: "Number of async side-effect tasks dropped due to backpressure",
}, []string{"task"})
