// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package controller

import (
	"github.com/Thermoquad/canloop/pkg/fixed"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// Engine is the controller aggregate: configuration, loop state, the latest
// feedback sample and the latest command. It is not safe for concurrent use;
// a single goroutine owns it.
type Engine struct {
	cfg Config
	st  State
	fb  Feedback
	cmd Command
}

// NewEngine creates an engine with cfg and the initial state.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, st: InitialState()}
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config { return e.cfg }

// State returns a copy of the current loop state.
func (e *Engine) State() State { return e.st }

// Feedback returns the latest feedback sample.
func (e *Engine) Feedback() Feedback { return e.fb }

// Command returns the latest command.
func (e *Engine) Command() Command { return e.cmd }

// HasFeedback reports whether a feedback sample has been received.
func (e *Engine) HasFeedback() bool { return e.fb.Received }

// SetSetpoint overwrites Ts_sp.
func (e *Engine) SetSetpoint(s loopbus.Setpoint) {
	e.cfg.Setpoint = s.Temperature()
}

// SetTemperatureGains overwrites KpT, KiT, KdT and kawT.
func (e *Engine) SetTemperatureGains(g loopbus.TemperatureGains) {
	e.cfg.KpT, e.cfg.KiT, e.cfg.KdT, e.cfg.KawT = g.Gains()
}

// SetFlowGains overwrites Kpm, Kim, kawm, kvw and kwv.
func (e *Engine) SetFlowGains(g loopbus.FlowGains) {
	e.cfg.Kpm, e.cfg.Kim, e.cfg.Kawm, e.cfg.Kvw, e.cfg.Kwv = g.Gains()
}

// Observe stores a feedback sample and runs one step.
func (e *Engine) Observe(fb loopbus.Feedback) Command {
	e.fb = Feedback{
		Received: true,
		Ts:       fb.SystemTemp(),
		Th:       fb.HotTemp(),
		Tc:       fb.ColdTemp(),
		VPrevRPM: int64(fb.VPrevRPM()),
		DtMS:     uint32(fb.DtMS),
	}
	e.cmd, e.st = Step(e.cfg, e.st, e.fb)
	return e.cmd
}

// Integrators returns eta_T and eta_m.
func (e *Engine) Integrators() (etaT, etaM fixed.Q) {
	return e.st.EtaT, e.st.EtaM
}
