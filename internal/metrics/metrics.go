// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package metrics exposes controller node counters and gauges to Prometheus.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "canloop"

// Ignore reasons for FramesIgnored
const (
	ReasonUnknownID = "unknown_id"
	ReasonShort     = "short_payload"
	ReasonNotData   = "not_data"
)

// Metrics holds the node instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	FramesIgnored    *prometheus.CounterVec
	ControllerSteps  prometheus.Counter
	Transmissions    prometheus.Counter
	SendFailures     prometheus.Counter
	WatchdogExpiries prometheus.Counter

	Armed       prometheus.Gauge
	PumpCommand prometheus.Gauge
	FanCommand  prometheus.Gauge
	EtaT        prometheus.Gauge
	EtaM        prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames taken from the receive queue and decoded, by identifier.",
		}, []string{"id"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the receive queue was full.",
		}),
		FramesIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_ignored_total",
			Help:      "Frames discarded by the worker, by reason.",
		}, []string{"reason"}),
		ControllerSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_steps_total",
			Help:      "Controller iterations run on feedback.",
		}),
		Transmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_total",
			Help:      "Command frames sent.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Command frames that could not be sent.",
		}),
		WatchdogExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_expiries_total",
			Help:      "Times transmission was disarmed for lack of feedback.",
		}),
		Armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transmission_armed",
			Help:      "1 while periodic command transmission is armed.",
		}),
		PumpCommand: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_command_rpm",
			Help:      "Latest pump command.",
		}),
		FanCommand: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fan_command_rpm",
			Help:      "Latest fan command.",
		}),
		EtaT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_integrator",
			Help:      "Temperature loop integrator state.",
		}),
		EtaM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_integrator",
			Help:      "Flow loop integrator state.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.FramesReceived, m.FramesDropped, m.FramesIgnored, m.ControllerSteps,
		m.Transmissions, m.SendFailures, m.WatchdogExpiries,
		m.Armed, m.PumpCommand, m.FanCommand, m.EtaT, m.EtaM,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Received counts an accepted frame.
func (m *Metrics) Received(id uint32) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(fmt.Sprintf("0x%03X", id)).Inc()
}

// Dropped counts a queue overflow.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// Ignored counts a discarded frame.
func (m *Metrics) Ignored(reason string) {
	if m == nil {
		return
	}
	m.FramesIgnored.WithLabelValues(reason).Inc()
}

// Stepped records a controller iteration and its outputs.
func (m *Metrics) Stepped(pump, fan uint16, etaT, etaM float64) {
	if m == nil {
		return
	}
	m.ControllerSteps.Inc()
	m.PumpCommand.Set(float64(pump))
	m.FanCommand.Set(float64(fan))
	m.EtaT.Set(etaT)
	m.EtaM.Set(etaM)
}

// Sent records a transmission attempt.
func (m *Metrics) Sent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SendFailures.Inc()
		return
	}
	m.Transmissions.Inc()
}

// SetArmed records the transmission gate.
func (m *Metrics) SetArmed(armed bool) {
	if m == nil {
		return
	}
	if armed {
		m.Armed.Set(1)
	} else {
		m.Armed.Set(0)
	}
}

// Expired counts a watchdog expiry.
func (m *Metrics) Expired() {
	if m == nil {
		return
	}
	m.WatchdogExpiries.Inc()
}
