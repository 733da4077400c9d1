// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package plant simulates the thermal loop the controller drives: a heat
// source, a coolant loop with a pump and a fan-cooled radiator.
//
// The model is lumped. Three thermal nodes (system, hot leg, cold leg) and
// one hydraulic state (mass flow) are integrated with Heun's method.
package plant

import "math"

// Fluid and thermal parameters
const (
	coolantCp  = 4180.0 // J/(kg·K)
	hotCap     = 1.5e4  // J/K
	coldCap    = 1.0e4  // J/K
	systemCap  = 3.0e3  // J/K
	systemCond = 30.0   // W/K, system to hot leg
	ambient    = 25.0   // °C
)

// Hydraulic parameters
const (
	inertance   = 2.0e6                            // Pa·s²/kg
	pumpGain    = 6894.76 * 0.00011066669385127739 // Pa/rpm²
	pumpDroop   = 6894.76 * 1.659117628724065      // Pa·s²/kg²
	loopResist  = 1.5e7                            // Pa·s²/kg² at 60 °C
	omegaSqrCap = 20000.0
)

// Radiator parameters
const (
	radiatorUA0  = 120.0
	radiatorFan  = 60.0
	radiatorExp  = 0.65
	radiatorVMax = 600.0
)

// State limits
const (
	TempMin  = -400.0
	TsMax    = 1500.0
	LegMax   = 1300.0
	FlowMax  = 1500.0
	OmegaMax = 4000.0
	VMax     = 2800.0
)

// State is the simulated plant.
type State struct {
	Ts, Th, Tc float64 // °C
	Mdot       float64 // kg/s
	VPrev      float64 // last applied fan command, rpm
}

// DefaultState is a hot system with a cool loop and slow flow.
func DefaultState() State {
	return State{Ts: 155, Th: 35, Tc: 25, Mdot: 0.18}
}

func sat(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func softAbs(x, eps float64) float64 {
	return math.Sqrt(x*x + eps*eps)
}

func cappedSquare(x, limit float64) float64 {
	x = sat(x, -limit, limit)
	return x * x
}

// waterViscosity returns dynamic viscosity in Pa·s.
func waterViscosity(celsius float64) float64 {
	const a, b, c = 2.414e-5, 247.8, 140.0
	k := sat(celsius, -10, 120) + 273.15
	return a * math.Exp(b/(k-c))
}

// radiatorUA returns the radiator conductance in W/K for a fan speed.
func radiatorUA(fanRPM float64) float64 {
	v := sat(fanRPM, 0, radiatorVMax)
	return sat(radiatorUA0+radiatorFan*math.Pow(v, radiatorExp), 1, 5e3)
}

// systemPower is the heat injected at the system node, in W.
func systemPower(ts float64) float64 {
	const base, alpha = 180.0, 0.002
	return sat(base*(1+alpha*(ts-60)), 0, 2e5)
}

type derivative struct {
	ts, th, tc, mdot float64
}

func (s State) derivative(omega, v float64) derivative {
	ts := sat(s.Ts, TempMin, TsMax)
	th := sat(s.Th, TempMin, LegMax)
	tc := sat(s.Tc, TempMin, LegMax)
	mdot := sat(s.Mdot, 0, FlowMax)
	mean := sat((th+tc)/2, TempMin, LegMax)

	qSys := systemCond * (ts - th)
	qConv := mdot * coolantCp * (th - tc)

	dp := pumpGain*cappedSquare(omega, omegaSqrCap) - pumpDroop*cappedSquare(mdot, 10)
	resist := loopResist * waterViscosity(mean) / waterViscosity(60)
	loss := resist * mdot * softAbs(mdot, 1e-9)

	return derivative{
		ts:   sat((systemPower(ts)-qSys)/systemCap, -500, 500),
		th:   sat((qSys-qConv)/hotCap, -500, 500),
		tc:   sat((qConv-radiatorUA(v)*(tc-ambient))/coldCap, -500, 500),
		mdot: sat((dp-loss)/inertance, -500, 50),
	}
}

func (s State) advance(d derivative, dt float64) State {
	s.Ts += d.ts * dt
	s.Th += d.th * dt
	s.Tc += d.tc * dt
	s.Mdot += d.mdot * dt
	return s
}

// Step integrates the plant over dt seconds with the given pump and fan
// speeds, clamping the result to the model limits.
func (s State) Step(omegaRPM, vRPM, dt float64) State {
	k1 := s.derivative(omegaRPM, vRPM)
	k2 := s.advance(k1, dt).derivative(omegaRPM, vRPM)
	avg := derivative{
		ts:   (k1.ts + k2.ts) / 2,
		th:   (k1.th + k2.th) / 2,
		tc:   (k1.tc + k2.tc) / 2,
		mdot: (k1.mdot + k2.mdot) / 2,
	}

	next := s.advance(avg, dt)
	next.Ts = sat(next.Ts, TempMin, TsMax)
	next.Th = sat(next.Th, TempMin, LegMax)
	next.Tc = sat(next.Tc, TempMin, LegMax)
	next.Mdot = sat(next.Mdot, 0, FlowMax)
	next.VPrev = sat(vRPM, 0, VMax)
	return next
}
