// Package metrics exports sidecar supervision metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the metrics of one supervision session. Each Recorder owns
// its collectors, so tests and multiple sidecars can use separate
// registries.
type Recorder struct {
	spawns       *prometheus.CounterVec
	ready        prometheus.Gauge
	readySeconds prometheus.Gauge
	readySource  *prometheus.GaugeVec
	lines        *prometheus.CounterVec
	anomalies    prometheus.Counter
	terminations *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		spawns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_spawns_total",
				Help: "Spawn attempts by result",
			},
			[]string{"result"},
		),
		ready: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidecar_ready",
				Help: "1 once the backend is considered ready",
			},
		),
		readySeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidecar_ready_seconds",
				Help: "Seconds from spawn until readiness was declared",
			},
		),
		readySource: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sidecar_ready_source",
				Help: "What declared readiness (value always 1)",
			},
			[]string{"source"},
		),
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_output_lines_total",
				Help: "Backend output lines by stream",
			},
			[]string{"stream"},
		),
		anomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sidecar_decode_anomalies_total",
				Help: "Output lines containing bytes that could not be decoded",
			},
		),
		terminations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_terminations_total",
				Help: "Backend exits by exit code or signal",
			},
			[]string{"code", "signal"},
		),
	}

	reg.MustRegister(
		r.spawns,
		r.ready,
		r.readySeconds,
		r.readySource,
		r.lines,
		r.anomalies,
		r.terminations,
	)
	return r
}

func (r *Recorder) Spawned() {
	r.spawns.WithLabelValues("ok").Inc()
}

func (r *Recorder) SpawnFailed() {
	r.spawns.WithLabelValues("error").Inc()
}

func (r *Recorder) Line(stream string) {
	r.lines.WithLabelValues(stream).Inc()
}

func (r *Recorder) DecodeAnomaly() {
	r.anomalies.Inc()
}

func (r *Recorder) Ready(source string, after time.Duration) {
	r.ready.Set(1)
	r.readySeconds.Set(after.Seconds())
	r.readySource.WithLabelValues(source).Set(1)
}

func (r *Recorder) Terminated(code, signal int) {
	r.terminations.WithLabelValues(strconv.Itoa(code), strconv.Itoa(signal)).Inc()
}
