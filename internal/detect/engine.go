// Package detect drives the pipeline from raw log lines to dispatched alerts.
package detect

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"ssh-sentry/internal/explain"
	"ssh-sentry/internal/geo"
	"ssh-sentry/internal/ingest"
	"ssh-sentry/internal/logging"
	"ssh-sentry/internal/metrics"
	"ssh-sentry/internal/notify"
	"ssh-sentry/internal/parser"
	"ssh-sentry/internal/types"
)

// DefaultWorkers bounds concurrent geolocation + delivery calls
const DefaultWorkers = 4

// Gate decides whether an event may be notified
type Gate interface {
	ShouldNotify(ip string, kind types.EventKind, user string) bool
}

// Engine is the core pipeline. Lines are classified and gated in arrival
// order on the caller's goroutine; enrichment and delivery run on a bounded pool.
type Engine struct {
	mu        sync.RWMutex
	toggles   types.NotifyConfig
	parser    parser.Parser
	gate      Gate
	resolver  geo.Resolver
	formatter explain.Formatter
	notifier  notify.Notifier
	pool      *pool.Pool
}

// NewEngine wires the pipeline stages together
func NewEngine(toggles types.NotifyConfig, p parser.Parser, gate Gate, r geo.Resolver, f explain.Formatter, n notify.Notifier) *Engine {
	workers := toggles.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{
		toggles:   toggles,
		parser:    p,
		gate:      gate,
		resolver:  r,
		formatter: f,
		notifier:  n,
		pool:      pool.New().WithMaxGoroutines(workers),
	}
}

// Run consumes lines until ctx is cancelled or the channel closes
func (e *Engine) Run(ctx context.Context, lines <-chan ingest.LogLine) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				logging.Warn().Msg("[INGEST] Log stream closed")
				return
			}
			e.ProcessLine(line.Content)
		}
	}
}

// ProcessLine runs one raw line through the pipeline and reports whether a
// notification was dispatched to the worker pool.
func (e *Engine) ProcessLine(line string) bool {
	metrics.LinesRead.Inc()

	if !ingest.Relevant(line) {
		return false
	}

	evt := e.parser.Parse(line)
	if evt == nil {
		return false
	}
	metrics.EventsProcessed.WithLabelValues(string(evt.Kind)).Inc()

	log := logging.Info().
		Str("kind", string(evt.Kind)).
		Str("user", evt.User).
		Str("ip", evt.SourceIP).
		Str("host", evt.Hostname)

	if !e.enabled(evt.Kind) {
		log.Msg("[EVENT] Notification disabled for kind")
		return false
	}

	if !e.gate.ShouldNotify(evt.SourceIP, evt.Kind, evt.User) {
		metrics.NotificationsSuppressed.WithLabelValues(string(evt.Kind)).Inc()
		log.Msg("[RATE LIMIT] Notification suppressed")
		return false
	}

	log.Msg("[EVENT] Dispatching notification")
	e.pool.Go(func() {
		e.dispatch(evt)
	})
	return true
}

// SetToggles swaps the per-kind notification switches. The pool size is fixed
// at construction and is not changed.
func (e *Engine) SetToggles(t types.NotifyConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toggles = t
}

func (e *Engine) enabled(kind types.EventKind) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toggles.Enabled(kind)
}

func (e *Engine) dispatch(evt *types.SSHEvent) {
	// Each call bounds itself; sends are not cancelled by shutdown.
	ctx := context.Background()
	location := e.resolver.Resolve(ctx, evt.SourceIP)
	msg := e.formatter.Format(evt, location)
	if !e.notifier.Send(ctx, msg) {
		logging.Warn().Str("kind", string(evt.Kind)).Str("ip", evt.SourceIP).Msg("[NOTIFY] Alert not delivered")
	}
}

// Wait blocks until all dispatched notifications finish. Call once, after Run returns.
func (e *Engine) Wait() {
	e.pool.Wait()
}
