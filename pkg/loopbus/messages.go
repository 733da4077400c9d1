// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import "github.com/Thermoquad/canloop/pkg/fixed"

// Message is a decoded loopbus payload. Fields hold raw wire units; the
// accessor methods widen them to Q16.16.
type Message interface {
	MessageID() uint32
}

// Enable signals a mode transition. Its payload is not interpreted.
type Enable struct{}

// Feedback is the plant measurement.
type Feedback struct {
	Ts, Th, Tc int16 // 0.1 °C
	VPrev      uint8 // 10 rpm
	DtMS       uint8 // 1..255 ms; a zero on the wire decodes as 1
}

// Command is the actuator command emitted by the controller.
type Command struct {
	OmegaRPM uint16 // pump
	VRPM     uint16 // fan
}

// Setpoint carries the target system temperature.
type Setpoint struct {
	Ts int16 // 0.1 °C
}

// TemperatureGains updates the fan (temperature) loop gains.
type TemperatureGains struct {
	KpT, KiT, KdT uint16 // 8.8
	KawT          uint8  // 4.4
}

// FlowGains updates the pump (flow) loop and decoupling gains.
//
// The 4.4 fields are unsigned: negative decoupling gains cannot be expressed
// on the wire and quantize to zero.
type FlowGains struct {
	Kpm, Kim       uint16 // 8.8
	Kawm, Kvw, Kwv uint8  // 4.4
}

func (Enable) MessageID() uint32           { return IDEnable }
func (Feedback) MessageID() uint32         { return IDFeedback }
func (Command) MessageID() uint32          { return IDCommand }
func (Setpoint) MessageID() uint32         { return IDSetpoint }
func (TemperatureGains) MessageID() uint32 { return IDTemperatureGains }
func (FlowGains) MessageID() uint32        { return IDFlowGains }

// SystemTemp returns Ts in °C.
func (f Feedback) SystemTemp() fixed.Q { return fixed.FromTenths(f.Ts) }

// HotTemp returns Th in °C.
func (f Feedback) HotTemp() fixed.Q { return fixed.FromTenths(f.Th) }

// ColdTemp returns Tc in °C.
func (f Feedback) ColdTemp() fixed.Q { return fixed.FromTenths(f.Tc) }

// VPrevRPM returns the last applied fan speed in rpm.
func (f Feedback) VPrevRPM() uint16 { return uint16(f.VPrev) * FanPrevScale }

// Temperature returns the setpoint in °C.
func (s Setpoint) Temperature() fixed.Q { return fixed.FromTenths(s.Ts) }

// Gains returns KpT, KiT, KdT and kawT in Q16.16.
func (g TemperatureGains) Gains() (kp, ki, kd, kaw fixed.Q) {
	return fixed.FromQ88(g.KpT), fixed.FromQ88(g.KiT), fixed.FromQ88(g.KdT), fixed.FromQ44(g.KawT)
}

// Gains returns Kpm, Kim, kawm, kvw and kwv in Q16.16.
func (g FlowGains) Gains() (kp, ki, kaw, kvw, kwv fixed.Q) {
	return fixed.FromQ88(g.Kpm), fixed.FromQ88(g.Kim),
		fixed.FromQ44(g.Kawm), fixed.FromQ44(g.Kvw), fixed.FromQ44(g.Kwv)
}
