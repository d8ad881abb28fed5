package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"overlaynerd-mcp-server/internal/overlay"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is an overlay.Observer backed by Prometheus collectors on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	togglesTotal    *prometheus.CounterVec
	toggleDuration  *prometheus.HistogramVec
	probesTotal     *prometheus.CounterVec
	installsTotal   *prometheus.CounterVec
	reconcilesTotal *prometheus.CounterVec
	dialogsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		togglesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_toggles_total",
				Help: "Toggle requests by result",
			},
			[]string{"result"},
		),
		toggleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overlay_toggle_duration_seconds",
				Help:    "Time from toggle start to completion",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_probes_total",
				Help: "Liveness probes by outcome",
			},
			[]string{"outcome"},
		),
		installsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_installs_total",
				Help: "Runtime install attempts by status",
			},
			[]string{"status"},
		),
		reconcilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_reconciles_total",
				Help: "Visibility resets by reason",
			},
			[]string{"reason"},
		),
		dialogsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_dialogs_total",
				Help: "Completed dialogs by kind and user action",
			},
			[]string{"kind", "action"},
		),
	}
}

func (m *Metrics) ToggleCompleted(_ overlay.TargetID, r overlay.ToggleResult, elapsed time.Duration) {
	m.togglesTotal.WithLabelValues(r.String()).Inc()
	m.toggleDuration.WithLabelValues(r.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) Probed(_ overlay.TargetID, outcome overlay.ProbeOutcome) {
	m.probesTotal.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) Installed(_ overlay.TargetID, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.installsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Reconciled(_ overlay.TargetID, reason overlay.ReconcileReason) {
	m.reconcilesTotal.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) DialogCompleted(_ overlay.TargetID, kind overlay.DialogKind, res overlay.DialogResult, err error) {
	action := res.Action
	if err != nil {
		action = "error"
	}
	m.dialogsTotal.WithLabelValues(string(kind), action).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve hosts /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
