// Package metrics exposes the node's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/irrigation-node/internal/irrigation"
	"github.com/sweeney/irrigation-node/internal/telemetry"
)

const metricPrefix = "irrigation_"

// Metrics bundles the node collectors.
type Metrics struct {
	SoilPercent   prometheus.Gauge
	Temperature   prometheus.Gauge
	Humidity      prometheus.Gauge
	PumpRunning   prometheus.Gauge
	DrySamples    prometheus.Gauge
	GateOpen      prometheus.Gauge
	PumpStarts    prometheus.Counter
	PumpStops     *prometheus.CounterVec
	PumpRunTime   prometheus.Histogram
	Ticks         prometheus.Counter
	RelayFailures prometheus.Counter
	SensorErrors  *prometheus.CounterVec

	lastClimateFailures int
	lastADCFailures     int
}

// New constructs the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SoilPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "soil_moisture_percent",
			Help: "Soil moisture from the last control tick",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "air_temperature_celsius",
			Help: "Last good air temperature reading",
		}),
		Humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "air_humidity_percent",
			Help: "Last good relative humidity reading",
		}),
		PumpRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "pump_running",
			Help: "1 while the pump relay is commanded on",
		}),
		DrySamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "dry_samples",
			Help: "Consecutive dry samples counted towards a pump start",
		}),
		GateOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "control_enabled",
			Help: "1 once the boot warm-up has passed",
		}),
		PumpStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "pump_starts_total",
			Help: "Total pump starts",
		}),
		PumpStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pump_stops_total",
				Help: "Total pump stops by reason",
			},
			[]string{"reason"},
		),
		PumpRunTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "pump_run_seconds",
			Help:    "Pump run duration in seconds",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "control_ticks_total",
			Help: "Total control ticks",
		}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "relay_write_failures_total",
			Help: "Total failed relay writes",
		}),
		SensorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sensor_errors_total",
				Help: "Total sensor read failures by sensor",
			},
			[]string{"sensor"},
		),
	}
	reg.MustRegister(
		m.SoilPercent,
		m.Temperature,
		m.Humidity,
		m.PumpRunning,
		m.DrySamples,
		m.GateOpen,
		m.PumpStarts,
		m.PumpStops,
		m.PumpRunTime,
		m.Ticks,
		m.RelayFailures,
		m.SensorErrors,
	)
	return m
}

// ObserveTick records one control tick. Called only from the run loop.
func (m *Metrics) ObserveTick(res telemetry.TickResult, view irrigation.View, health telemetry.Health) {
	m.Ticks.Inc()
	m.SoilPercent.Set(float64(res.Soil))
	if res.Temp != nil {
		m.Temperature.Set(*res.Temp)
	}
	if res.Humidity != nil {
		m.Humidity.Set(*res.Humidity)
	}
	m.PumpRunning.Set(boolGauge(res.Command == irrigation.RelayOn))
	m.DrySamples.Set(float64(view.DrySamples))
	m.GateOpen.Set(boolGauge(view.GateOpen))

	if res.RelayErr != nil {
		m.RelayFailures.Inc()
	}

	if e := res.Event; e != nil {
		switch e.Type {
		case irrigation.EventPumpOn:
			m.PumpStarts.Inc()
		case irrigation.EventPumpOff:
			m.PumpStops.WithLabelValues(string(e.Reason)).Inc()
			m.PumpRunTime.Observe(e.RunTime.Seconds())
		}
	}

	// Sensor stats are cumulative; export the increase since the last tick.
	s := health.Sensors
	if d := s.ClimateFailures - m.lastClimateFailures; d > 0 {
		m.SensorErrors.WithLabelValues("climate").Add(float64(d))
	}
	if d := s.ADCFailures - m.lastADCFailures; d > 0 {
		m.SensorErrors.WithLabelValues("adc").Add(float64(d))
	}
	m.lastClimateFailures = s.ClimateFailures
	m.lastADCFailures = s.ADCFailures
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
