package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ssh_sentry"

var (
	// LinesRead counts raw lines delivered by the active source
	LinesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_read_total",
		Help:      "Raw log lines read from the active source",
	})

	// EventsProcessed counts classified events by kind
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "SSH events classified from log lines",
	}, []string{"kind"})

	// NotificationsSuppressed counts events gated by the rate limiter
	NotificationsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_suppressed_total",
		Help:      "Notifications suppressed by the rate limiter",
	}, []string{"kind"})

	// NotificationsSent counts delivery attempts by outcome (success, failure)
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Notification delivery attempts by result",
	}, []string{"result"})

	// GeoLookups counts geolocation resolutions by result (local, resolved, fallback)
	GeoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geo_lookups_total",
		Help:      "Geolocation resolutions by result",
	}, []string{"result"})

	// RateLimitEntries tracks the size of the rate-limit table
	RateLimitEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_entries",
		Help:      "Entries currently held in the rate-limit table",
	})

	// ActiveSource is 1 for the log source selected at startup
	ActiveSource = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_source",
		Help:      "Log source selected at startup",
	}, []string{"source"})
)

// StartServer serves /metrics on addr until ctx is cancelled
func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
