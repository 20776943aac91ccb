// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/vsensor/pkg/poller"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

// Metrics exports the latest device values and poll outcomes.
type Metrics struct {
	pressure    prometheus.Gauge
	output      prometheus.Gauge
	setpoint    prometheus.Gauge
	mode        prometheus.Gauge
	heartbeat   prometheus.Gauge
	display     prometheus.Gauge
	lastSuccess prometheus.Gauge
	polls       *prometheus.CounterVec
	commands    *prometheus.CounterVec
	wsClients   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_pressure_pa",
			Help: "Measured pressure in pascal",
		}),
		output: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_output_percent",
			Help: "Controller output in percent",
		}),
		setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_auto_setpoint",
			Help: "Setpoint used in AUTO mode",
		}),
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_mode",
			Help: "Operating mode (0 AUTO, 1 MANUAL)",
		}),
		heartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_heartbeat",
			Help: "Device heartbeat counter",
		}),
		display: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_display_value",
			Help: "Value shown on the device display",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_last_success_timestamp_seconds",
			Help: "Unix time of the last successful poll",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vsensor_polls_total",
			Help: "Polls by result",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vsensor_commands_total",
			Help: "Bridge commands by type and result",
		}, []string{"command", "result"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsensor_websocket_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.pressure, m.output, m.setpoint, m.mode, m.heartbeat, m.display,
		m.lastSuccess, m.polls, m.commands, m.wsClients,
	)
	return m
}

// Observe records one poll result.
func (m *Metrics) Observe(r poller.Result) {
	if r.Err != nil {
		kind := vsensor.KindOf(r.Err).String()
		if vsensor.KindOf(r.Err) == 0 {
			kind = "error"
		}
		m.polls.WithLabelValues(kind).Inc()
		return
	}

	s := r.Snapshot
	m.polls.WithLabelValues("ok").Inc()
	m.pressure.Set(s.PressurePa)
	m.output.Set(s.OutputPercent)
	m.setpoint.Set(s.AutoSetpoint)
	m.mode.Set(float64(s.Mode))
	m.heartbeat.Set(float64(s.Heartbeat))
	m.display.Set(s.DisplayValue)
	m.lastSuccess.Set(float64(s.Time.UnixNano()) / 1e9)
}

func (m *Metrics) command(name, result string) {
	m.commands.WithLabelValues(name, result).Inc()
}
