// Package metrics exposes punchchat's Prometheus instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	messagesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "punchchat_messages_published_total",
			Help: "Number of chat messages published to the gossip topic",
		},
	)
	publishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "punchchat_publish_failures_total",
			Help: "Number of failed gossip publishes",
		},
	)
	messagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "punchchat_messages_received_total",
			Help: "Number of chat messages received from the gossip topic",
		},
	)
	sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchchat_session_events_total",
			Help: "Number of session events by type",
		},
		[]string{"type"},
	)
	establishPhase = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "punchchat_establish_phase_seconds",
			Help:    "Time spent in each connection establishment phase",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"phase"},
	)
	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchchat_relay_requests_total",
			Help: "Number of relay reservation and connect requests by outcome",
		},
		[]string{"kind", "outcome"},
	)
	rendezvousRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchchat_rendezvous_requests_total",
			Help: "Number of rendezvous registry operations by kind",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry. It is safe to
// call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(messagesPublished)
		prometheus.MustRegister(publishFailures)
		prometheus.MustRegister(messagesReceived)
		prometheus.MustRegister(sessionEvents)
		prometheus.MustRegister(establishPhase)
		prometheus.MustRegister(relayRequests)
		prometheus.MustRegister(rendezvousRequests)
	})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) *http.Server {
	Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "Serve",
			"addr":     addr,
		}).Info("Serving metrics")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"addr":     addr,
				"error":    err.Error(),
			}).Error("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return srv
}

func MessagePublished() {
	messagesPublished.Inc()
}

func PublishFailed() {
	publishFailures.Inc()
}

func MessageReceived() {
	messagesReceived.Inc()
}

// SessionEvent counts one session event of the given type.
func SessionEvent(eventType string) {
	sessionEvents.With(prometheus.Labels{"type": eventType}).Inc()
}

// EstablishPhase records how long the orchestrator spent reaching phase.
func EstablishPhase(phase string, d time.Duration) {
	establishPhase.With(prometheus.Labels{"phase": phase}).Observe(d.Seconds())
}

// RelayRequest counts a relay reservation or connect decision.
func RelayRequest(kind string, accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "denied"
	}
	relayRequests.With(prometheus.Labels{"kind": kind, "outcome": outcome}).Inc()
}

// RendezvousRequest counts one register, unregister or discover operation.
func RendezvousRequest(kind string) {
	rendezvousRequests.With(prometheus.Labels{"kind": kind}).Inc()
}
