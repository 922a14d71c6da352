package main

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var errUnknownCommand = errors.New("unknown command")

var (
	azimuthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rotor_azimuth_degrees",
		Help: "Current rotor azimuth",
	})
	elevationGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rotor_elevation_degrees",
		Help: "Current rotor elevation",
	})
	enabledGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rotor_enabled",
		Help: "1 if the rotor is enabled for movement",
	})
	backendGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rotor_backend_info",
		Help: "Active backend, labelled by name, with 1 if its link is open",
	}, []string{"backend"})
	faultGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rotor_fault",
		Help: "1 if the active backend reports an error",
	})
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rotor_commands_total",
		Help: "Commands received, by command and result",
	}, []string{"command", "result"})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func updateMetrics(st Status) {
	azimuthGauge.Set(st.Azimuth)
	elevationGauge.Set(st.Elevation)
	enabledGauge.Set(boolGauge(st.Enabled))
	backendGauge.Reset()
	backendGauge.WithLabelValues(st.Backend).Set(boolGauge(st.Open))
	faultGauge.Set(boolGauge(st.Error != ""))
}
