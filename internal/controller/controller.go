// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package controller implements the dual-loop pump/fan controller.
//
// The flow loop drives the pump from the system temperature error; the
// temperature loop drives the fan from the same error plus a filtered
// derivative of the hot-side temperature. Both are PI loops with
// back-calculation anti-windup and a one-pass decoupling term: the flow loop
// is solved first against the previous fan speed, then the temperature loop
// against the clamped pump command.
//
// All arithmetic is Q16.16 (see pkg/fixed) so results are reproducible across
// nodes.
package controller

import (
	"errors"
	"fmt"
	"math"

	"github.com/Thermoquad/canloop/pkg/fixed"
)

// Integrator bounds, in setpoint units.
var (
	EtaMLimit = fixed.FromInt(200)
	EtaTLimit = fixed.FromInt(500)
)

// Configuration bounds. Gains stay inside what the parameter frames can
// carry (8.8 and 4.4, with sign for the decoupling gains) and the setpoint
// inside the 0.1 °C wire range, so every product in Step fits in 64 bits.
var (
	MaxGain         = fixed.FromInt(256)
	MaxWindupGain   = fixed.FromInt(16)
	MaxDecoupleGain = fixed.FromInt(16)
	MinSetpoint     = fixed.FromTenths(math.MinInt16)
	MaxSetpoint     = fixed.FromTenths(math.MaxInt16)
)

// Config holds the setpoint, gains and actuator limits.
type Config struct {
	Setpoint fixed.Q // Ts_sp, °C

	// Temperature (fan) loop
	KpT, KiT, KdT fixed.Q
	KawT          fixed.Q

	// Flow (pump) loop
	Kpm, Kim fixed.Q
	Kawm     fixed.Q

	// Decoupling cross-gains. Kvw couples pump into fan, Kwv fan into pump.
	Kvw, Kwv fixed.Q

	Omega0RPM   int64 // pump feedforward baseline
	V0RPM       int64 // fan feedforward baseline
	OmegaMaxRPM int64
	VMaxRPM     int64
	VCutRPM     int64 // fan cut-in; smaller commands are sent as 0

	TauDMin fixed.Q // floor of the derivative filter time constant, s
}

// DefaultConfig returns the startup configuration. The negative decoupling
// gains cannot be sent over the bus and only exist locally.
func DefaultConfig() Config {
	return Config{
		Setpoint: fixed.FromInt(25),

		KpT:  fixed.FromInt(100) + fixed.One/5 + fixed.One/10,
		KiT:  fixed.One / 10,
		KdT:  fixed.FromInt(4),
		KawT: fixed.FromInt(5),

		Kpm:  fixed.FromInt(130),
		Kim:  fixed.One / 100,
		Kawm: fixed.FromInt(10),

		Kvw: -(fixed.One/6 + fixed.One/30),
		Kwv: -(fixed.One / 50),

		Omega0RPM:   100,
		V0RPM:       100,
		OmegaMaxRPM: 4000,
		VMaxRPM:     2800,
		VCutRPM:     700,

		TauDMin: fixed.One / 1000,
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid controller config")

// Validate checks the limits that keep commands inside the 16-bit wire
// range, the derivative filter divisor non-zero and the fixed-point
// arithmetic free of overflow.
func (c Config) Validate() error {
	if c.Setpoint < MinSetpoint || c.Setpoint > MaxSetpoint {
		return fmt.Errorf("%w: setpoint %s out of [%s, %s]", ErrInvalidConfig, c.Setpoint, MinSetpoint, MaxSetpoint)
	}
	for _, g := range []struct {
		name   string
		v      fixed.Q
		lo, hi fixed.Q
	}{
		{"kp_t", c.KpT, 0, MaxGain},
		{"ki_t", c.KiT, 0, MaxGain},
		{"kd_t", c.KdT, 0, MaxGain},
		{"kp_m", c.Kpm, 0, MaxGain},
		{"ki_m", c.Kim, 0, MaxGain},
		{"kaw_t", c.KawT, 0, MaxWindupGain},
		{"kaw_m", c.Kawm, 0, MaxWindupGain},
		{"kvw", c.Kvw, -MaxDecoupleGain, MaxDecoupleGain},
		{"kwv", c.Kwv, -MaxDecoupleGain, MaxDecoupleGain},
	} {
		if g.v < g.lo || g.v > g.hi {
			return fmt.Errorf("%w: %s %s out of [%s, %s]", ErrInvalidConfig, g.name, g.v, g.lo, g.hi)
		}
	}

	switch {
	case c.Omega0RPM < 0 || c.Omega0RPM > 0xFFFF:
		return fmt.Errorf("%w: omega0_rpm %d out of [0, 65535]", ErrInvalidConfig, c.Omega0RPM)
	case c.V0RPM < 0 || c.V0RPM > 0xFFFF:
		return fmt.Errorf("%w: v0_rpm %d out of [0, 65535]", ErrInvalidConfig, c.V0RPM)
	case c.OmegaMaxRPM < 0 || c.OmegaMaxRPM > 0xFFFF:
		return fmt.Errorf("%w: omega_max_rpm %d out of [0, 65535]", ErrInvalidConfig, c.OmegaMaxRPM)
	case c.VMaxRPM < 0 || c.VMaxRPM > 0xFFFF:
		return fmt.Errorf("%w: v_max_rpm %d out of [0, 65535]", ErrInvalidConfig, c.VMaxRPM)
	case c.VCutRPM < 0 || c.VCutRPM > 0xFFFF:
		return fmt.Errorf("%w: v_cut_rpm %d out of [0, 65535]", ErrInvalidConfig, c.VCutRPM)
	case c.TauDMin <= 0:
		return fmt.Errorf("%w: tau_d_min %s must be positive", ErrInvalidConfig, c.TauDMin)
	}
	return nil
}

// State is the integrator and filter state carried between steps.
type State struct {
	EtaT fixed.Q // temperature-loop integrator
	EtaM fixed.Q // flow-loop integrator
	DThF fixed.Q // filtered derivative of Th
	TauD fixed.Q // derivative filter time constant, s
}

// InitialState returns the state at startup.
func InitialState() State {
	return State{TauD: fixed.One}
}

// Feedback is the latest plant sample in controller units.
type Feedback struct {
	Received   bool
	Ts, Th, Tc fixed.Q
	VPrevRPM   int64
	DtMS       uint32
}

// Command is the pump/fan output pair.
type Command struct {
	OmegaRPM uint16
	VRPM     uint16
}

// Step runs one controller iteration. Without a received sample or with a
// zero dt it returns the zero command and leaves st unchanged.
func Step(cfg Config, st State, fb Feedback) (Command, State) {
	if !fb.Received || fb.DtMS == 0 {
		return Command{}, st
	}

	dt := fixed.Div(fixed.FromInt(int(fb.DtMS)), fixed.FromInt(1000))

	// Flow loop
	eM := cfg.Setpoint - fb.Ts
	omegaRaw := -(fixed.FromInt(int(cfg.Omega0RPM)) + fixed.Mul(cfg.Kpm, eM) + fixed.Mul(cfg.Kim, st.EtaM))
	omegaCmd := omegaRaw + fixed.Mul(cfg.Kwv, fixed.FromInt(int(fb.VPrevRPM-cfg.V0RPM)))

	omega := clampRPM(omegaCmd.Int(), 0, cfg.OmegaMaxRPM)
	omegaQ := fixed.FromInt(int(omega))
	omegaErr := omegaQ - omegaRaw
	st.EtaM += fixed.Mul(eM+fixed.Mul(cfg.Kawm, omegaErr), dt)
	st.EtaM = fixed.Sat(st.EtaM, -EtaMLimit, EtaMLimit)

	// Temperature loop
	eT := cfg.Setpoint - fb.Ts
	if st.TauD < cfg.TauDMin {
		st.TauD = cfg.TauDMin
	}
	term1 := fixed.Div(fb.Th-st.DThF, dt)
	term2 := fixed.Div(st.DThF, st.TauD)
	st.DThF += fixed.Mul(term1-term2, dt)

	vRaw := -(fixed.FromInt(int(cfg.V0RPM)) + fixed.Mul(cfg.KpT, eT) + fixed.Mul(cfg.KiT, st.EtaT) - fixed.Mul(cfg.KdT, st.DThF))
	vCmd := vRaw + fixed.Mul(cfg.Kvw, omegaQ-fixed.FromInt(int(cfg.Omega0RPM)))

	v := clampRPM(vCmd.Int(), 0, cfg.VMaxRPM)
	if v < cfg.VCutRPM {
		v = 0
	}
	vErr := fixed.FromInt(int(v)) - vRaw
	st.EtaT += fixed.Mul(eT+fixed.Mul(cfg.KawT, vErr), dt)
	st.EtaT = fixed.Sat(st.EtaT, -EtaTLimit, EtaTLimit)

	return Command{OmegaRPM: uint16(omega), VRPM: uint16(v)}, st
}

func clampRPM(x, lo, hi int64) int64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
