// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownID is returned for identifiers this protocol does not define.
	ErrUnknownID = errors.New("unknown message id")
	// ErrShortPayload is returned when a known message is undersized.
	ErrShortPayload = errors.New("payload too short")
	// ErrNotData is returned for extended, remote and error frames.
	ErrNotData = errors.New("not a standard data frame")
)

// Decode classifies a frame by identifier and decodes its payload.
func Decode(f Frame) (Message, error) {
	if !f.IsStandardData() {
		return nil, fmt.Errorf("id 0x%08X: %w", f.ID, ErrNotData)
	}

	p := f.Payload()
	switch f.StandardID() {
	case IDEnable:
		return Enable{}, nil
	case IDFeedback:
		return DecodeFeedback(p)
	case IDCommand:
		return DecodeCommand(p)
	case IDSetpoint:
		return DecodeSetpoint(p)
	case IDTemperatureGains:
		return DecodeTemperatureGains(p)
	case IDFlowGains:
		return DecodeFlowGains(p)
	default:
		return nil, fmt.Errorf("id 0x%03X: %w", f.StandardID(), ErrUnknownID)
	}
}

func shortPayload(name string, got, want int) error {
	return fmt.Errorf("%s: %w (%d bytes, need %d)", name, ErrShortPayload, got, want)
}

// DecodeFeedback decodes a Feedback payload. The payload must be exactly
// FeedbackLength bytes. A zero dt decodes as 1 ms.
func DecodeFeedback(p []byte) (Feedback, error) {
	if len(p) != FeedbackLength {
		return Feedback{}, shortPayload("feedback", len(p), FeedbackLength)
	}
	fb := Feedback{
		Ts:    int16(binary.LittleEndian.Uint16(p[0:2])),
		Th:    int16(binary.LittleEndian.Uint16(p[2:4])),
		Tc:    int16(binary.LittleEndian.Uint16(p[4:6])),
		VPrev: p[6],
		DtMS:  p[7],
	}
	if fb.DtMS == 0 {
		fb.DtMS = 1
	}
	return fb, nil
}

// DecodeCommand decodes a Command payload (first four bytes).
func DecodeCommand(p []byte) (Command, error) {
	if len(p) < 4 {
		return Command{}, shortPayload("command", len(p), 4)
	}
	return Command{
		OmegaRPM: binary.LittleEndian.Uint16(p[0:2]),
		VRPM:     binary.LittleEndian.Uint16(p[2:4]),
	}, nil
}

// DecodeSetpoint decodes a Setpoint payload.
func DecodeSetpoint(p []byte) (Setpoint, error) {
	if len(p) < SetpointMinLength {
		return Setpoint{}, shortPayload("setpoint", len(p), SetpointMinLength)
	}
	return Setpoint{Ts: int16(binary.LittleEndian.Uint16(p[0:2]))}, nil
}

// DecodeTemperatureGains decodes a TemperatureGains payload.
func DecodeTemperatureGains(p []byte) (TemperatureGains, error) {
	if len(p) < TemperatureGainsLength {
		return TemperatureGains{}, shortPayload("temperature gains", len(p), TemperatureGainsLength)
	}
	return TemperatureGains{
		KpT:  binary.LittleEndian.Uint16(p[0:2]),
		KiT:  binary.LittleEndian.Uint16(p[2:4]),
		KdT:  binary.LittleEndian.Uint16(p[4:6]),
		KawT: p[6],
	}, nil
}

// DecodeFlowGains decodes a FlowGains payload.
func DecodeFlowGains(p []byte) (FlowGains, error) {
	if len(p) < FlowGainsLength {
		return FlowGains{}, shortPayload("flow gains", len(p), FlowGainsLength)
	}
	return FlowGains{
		Kpm:  binary.LittleEndian.Uint16(p[0:2]),
		Kim:  binary.LittleEndian.Uint16(p[2:4]),
		Kawm: p[4],
		Kvw:  p[5],
		Kwv:  p[6],
	}, nil
}
