// Package metrics exposes driver cycles and the latest power states as
// Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cptspacemanspiff/procpower/internal/driver"
	"github.com/cptspacemanspiff/procpower/internal/power"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	processes     prometheus.Gauge
	totalPower    prometheus.Gauge
	dynamicPower  prometheus.Gauge
	leakagePower  prometheus.Gauge
	voltage       prometheus.Gauge
	frequency     prometheus.Gauge
	temperature   prometheus.Gauge
	sinkErrors    *prometheus.CounterVec
}

// New registers the procpower collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procpower_cycles_total",
			Help: "Driver cycles that completed with a successful sink write.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "procpower_cycle_duration_seconds",
			Help:    "Time spent sampling, composing and writing one cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpower_processes",
			Help: "Processes in the most recent cycle.",
		}),
		totalPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpower_total_power_milliwatts",
			Help: "Sum of estimated per-process power in the most recent cycle.",
		}),
		dynamicPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpower_dynamic_power_milliwatts",
			Help: "Sum of estimated per-process dynamic power in the most recent cycle.",
		}),
		leakagePower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpower_leakage_power_milliwatts",
			Help: "Sum of estimated per-process leakage power in the most recent cycle.",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpower_core_voltage_volts",
			Help: "Core voltage used for the most recent cycle.",
		}),
		frequency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpower_core_frequency_hertz",
			Help: "Core frequency used for the most recent cycle.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpower_temperature_celsius",
			Help: "SoC temperature read for the most recent cycle.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procpower_sink_errors_total",
			Help: "Failed best-effort sink writes.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.cycles, m.cycleDuration, m.processes,
		m.totalPower, m.dynamicPower, m.leakagePower,
		m.voltage, m.frequency, m.temperature,
		m.sinkErrors,
	)
	return m
}

// WriteCycle updates the per-cycle gauges. Telemetry is shared by every
// record of a cycle, so it is taken from the first one.
func (m *Metrics) WriteCycle(states []power.PowerState) error {
	m.processes.Set(float64(len(states)))

	var total, dyn, leak float64
	for _, s := range states {
		total += s.PTotalMW
		dyn += s.PDynMW
		leak += s.PLeakMW
	}
	m.totalPower.Set(total)
	m.dynamicPower.Set(dyn)
	m.leakagePower.Set(leak)

	if len(states) > 0 {
		m.voltage.Set(states[0].VoltageV)
		m.frequency.Set(states[0].FreqHz)
		m.temperature.Set(states[0].TemperatureC)
	}
	return nil
}

// ObserveCycle is a driver OnCycle hook.
func (m *Metrics) ObserveCycle(stats driver.CycleStats) {
	m.cycles.Inc()
	m.cycleDuration.Observe(stats.Took.Seconds())
}

// RecordSinkError is a driver.ErrorHandler.
func (m *Metrics) RecordSinkError(sink string, _ error) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
