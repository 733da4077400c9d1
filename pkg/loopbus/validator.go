// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import (
	"errors"
	"fmt"
)

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyNotData AnomalyType = iota
	AnomalyUnknownID
	AnomalyShortPayload
	AnomalyLengthMismatch
	AnomalyCommandRange
	AnomalyTemperatureRange
	AnomalyReservedBytes
)

// Plausibility limits used by ValidateFrame. They are wider than the
// controller defaults so a retuned controller is not flagged.
const (
	MaxPlausibleRPM    = 10000
	MinPlausibleTenths = -400 // -40.0 °C
	MaxPlausibleTenths = 2000 // 200.0 °C
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame decodes a frame and flags anomalies. Decoding failures are
// reported as a single error; a valid frame returns an empty slice.
func ValidateFrame(f Frame) []ValidationError {
	msg, err := Decode(f)
	if err != nil {
		return []ValidationError{decodeAnomaly(f, err)}
	}

	errs := []ValidationError{}
	switch v := msg.(type) {
	case Command:
		errs = append(errs, validateCommand(f, v)...)
	case Feedback:
		errs = append(errs, validateFeedback(v)...)
	case Setpoint:
		errs = append(errs, validateTemperature("setpoint", v.Ts)...)
	}
	return errs
}

func decodeAnomaly(f Frame, err error) ValidationError {
	t := AnomalyShortPayload
	switch {
	case errors.Is(err, ErrNotData):
		t = AnomalyNotData
	case errors.Is(err, ErrUnknownID):
		t = AnomalyUnknownID
	case f.StandardID() == IDFeedback && f.Len > FeedbackLength:
		t = AnomalyLengthMismatch
	}
	return ValidationError{
		Type:    t,
		Message: err.Error(),
		Details: map[string]interface{}{"id": f.StandardID(), "length": f.Len},
	}
}

func validateCommand(f Frame, c Command) []ValidationError {
	errs := []ValidationError{}

	if c.OmegaRPM > MaxPlausibleRPM || c.VRPM > MaxPlausibleRPM {
		errs = append(errs, ValidationError{
			Type:    AnomalyCommandRange,
			Message: fmt.Sprintf("Command out of range (pump=%d, fan=%d, max %d)", c.OmegaRPM, c.VRPM, MaxPlausibleRPM),
			Details: map[string]interface{}{"pump": c.OmegaRPM, "fan": c.VRPM, "max": MaxPlausibleRPM},
		})
	}

	if f.Len != CommandLength {
		errs = append(errs, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("Command length %d, expected %d", f.Len, CommandLength),
			Details: map[string]interface{}{"length": f.Len, "expected": CommandLength},
		})
		return errs
	}

	for i := 4; i < CommandLength; i++ {
		if f.Data[i] != 0 {
			errs = append(errs, ValidationError{
				Type:    AnomalyReservedBytes,
				Message: fmt.Sprintf("Command reserved byte %d is 0x%02X", i, f.Data[i]),
				Details: map[string]interface{}{"offset": i, "value": f.Data[i]},
			})
			break
		}
	}
	return errs
}

func validateFeedback(fb Feedback) []ValidationError {
	errs := []ValidationError{}
	errs = append(errs, validateTemperature("Ts", fb.Ts)...)
	errs = append(errs, validateTemperature("Th", fb.Th)...)
	errs = append(errs, validateTemperature("Tc", fb.Tc)...)
	return errs
}

func validateTemperature(name string, t int16) []ValidationError {
	if t >= MinPlausibleTenths && t <= MaxPlausibleTenths {
		return nil
	}
	return []ValidationError{{
		Type:    AnomalyTemperatureRange,
		Message: fmt.Sprintf("%s out of range: %s", name, formatTenths(t)),
		Details: map[string]interface{}{"field": name, "tenths": t},
	}}
}
