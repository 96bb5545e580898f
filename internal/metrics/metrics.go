// Package metrics holds the prometheus collectors shared by the peer and the room server.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rigcall",
		Name:      "phase_transitions_total",
		Help:      "Call session phase transitions by target phase.",
	}, []string{"phase"})

	CallFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rigcall",
		Name:      "call_failures_total",
		Help:      "Calls that ended in the errored state, by error kind.",
	}, []string{"kind"})

	ControlEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rigcall",
		Name:      "control_events_total",
		Help:      "Control events by direction and outcome (sent, dropped, debounced).",
	}, []string{"direction", "outcome"})

	RoundTrip = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigcall",
		Name:      "ice_round_trip_seconds",
		Help:      "Current round trip time of the nominated candidate pair.",
	})

	InboundLost = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigcall",
		Name:      "inbound_rtp_lost_packets",
		Help:      "RTP packets missing from remote tracks, from sequence gaps.",
	})

	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomserver",
		Name:      "rooms",
		Help:      "Open signaling rooms.",
	})

	RelayedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomserver",
		Name:      "messages_total",
		Help:      "Signaling messages by outcome (delivered, queued, dropped).",
	}, []string{"outcome"})
)

// Serve exposes /metrics on port until ctx is done. Port 0 disables it.
func Serve(ctx context.Context, port int) error {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("module", "metrics").Str("addr", srv.Addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
