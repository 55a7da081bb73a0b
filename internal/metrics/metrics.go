// Package metrics declares the Prometheus metrics shared across the room,
// dispatcher, and persistence packages. Keeping them in one leaf package
// avoids coupling those packages to each other just to update a gauge.
//
// Naming convention: namespace_subsystem_name
//   - namespace: lexiclash (application-level grouping)
//   - subsystem: dispatcher, room, redis, circuit_breaker, rate_limit
//   - name: specific metric (connections_active, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lexiclash",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lexiclash",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lexiclash",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_code"})

	DispatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexiclash",
		Subsystem: "dispatcher",
		Name:      "events_total",
		Help:      "Total dispatched operations processed",
	}, []string{"event", "status"})

	DispatcherProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lexiclash",
		Subsystem: "dispatcher",
		Name:      "processing_duration_seconds",
		Help:      "Time spent processing one dispatched operation",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	WordsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexiclash",
		Subsystem: "game",
		Name:      "words_submitted_total",
		Help:      "Total word submissions by outcome",
	}, []string{"outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lexiclash",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexiclash",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexiclash",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"operation", "limit_type"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexiclash",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests that passed the rate limit",
	}, []string{"operation"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexiclash",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lexiclash",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() { ActiveWebSocketConnections.Inc() }
func DecConnection() { ActiveWebSocketConnections.Dec() }
