package metrics

import (
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	ActionsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_actions_received_total",
		Help: "The total number of client actions received, by action type.",
	}, []string{"type"})
	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_sent_total",
		Help: "The total number of events emitted to clients.",
	})

	// Room metrics
	LocalRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_local",
		Help: "The number of rooms with at least one local member.",
	})

	// Fabric metrics
	FabricEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_fabric_events_published_total",
		Help: "The total number of events published to the pub/sub fabric.",
	}, []string{"broker_type"})
	FabricEventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_fabric_events_delivered_total",
		Help: "The total number of fabric events delivered to local connections.",
	})

	// Auth metrics
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_failures_total",
		Help: "The total number of failed action authentications.",
	}, []string{"reason"})

	// Upstream metrics
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_failures_total",
		Help: "The total number of failed external REST collaborator calls.",
	}, []string{"operation"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting metrics server on %s%s", addr, path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("Failed to start metrics server: %v", err)
		}
	}()
}
