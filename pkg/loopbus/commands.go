// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import "time"

// Frame builders take physical units and apply the wire quantization rules.
// They are used by the parameter tool and the plant simulator.

// NewEnableFrame creates an ENABLE frame (0x101).
func NewEnableFrame() Frame {
	var data [MaxDataLength]byte
	return NewFrame(IDEnable, data[:])
}

// NewCommandFrame creates a COMMAND frame (0x201).
func NewCommandFrame(omegaRPM, vRPM uint16) Frame {
	data := EncodeCommand(Command{OmegaRPM: omegaRPM, VRPM: vRPM})
	return NewFrame(IDCommand, data[:])
}

// NewSetpointFrame creates a SETPOINT frame (0x301) for a target in °C.
func NewSetpointFrame(celsius float64) Frame {
	data := EncodeSetpoint(Setpoint{Ts: QuantizeTenths(celsius)})
	return NewFrame(IDSetpoint, data[:])
}

// NewTemperatureGainsFrame creates a TEMPERATURE_GAINS frame (0x300).
// Negative gains clamp to zero.
func NewTemperatureGainsFrame(kp, ki, kd, kaw float64) Frame {
	data := EncodeTemperatureGains(TemperatureGains{
		KpT:  QuantizeQ88(kp),
		KiT:  QuantizeQ88(ki),
		KdT:  QuantizeQ88(kd),
		KawT: QuantizeQ44(kaw),
	})
	return NewFrame(IDTemperatureGains, data[:])
}

// NewFlowGainsFrame creates a FLOW_GAINS frame (0x302).
// The decoupling gains kvw and kwv are normally negative and therefore
// arrive at the controller as zero.
func NewFlowGainsFrame(kpm, kim, kawm, kvw, kwv float64) Frame {
	data := EncodeFlowGains(FlowGains{
		Kpm:  QuantizeQ88(kpm),
		Kim:  QuantizeQ88(kim),
		Kawm: QuantizeQ44(kawm),
		Kvw:  QuantizeQ44(kvw),
		Kwv:  QuantizeQ44(kwv),
	})
	return NewFrame(IDFlowGains, data[:])
}

// PlantSample is a plant measurement in physical units.
type PlantSample struct {
	Ts, Th, Tc float64 // °C
	FanRPM     float64
	Elapsed    time.Duration
}

// NewFeedbackFrame creates a FEEDBACK frame (0x202) from a plant sample.
// The fan speed is clamped to [0, 2550] rpm before packing.
func NewFeedbackFrame(s PlantSample) Frame {
	data := EncodeFeedback(Feedback{
		Ts:    QuantizeTenths(s.Ts),
		Th:    QuantizeTenths(s.Th),
		Tc:    QuantizeTenths(s.Tc),
		VPrev: QuantizeFanPrev(s.FanRPM),
		DtMS:  QuantizeDt(s.Elapsed),
	})
	return NewFrame(IDFeedback, data[:])
}
