// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import (
	"fmt"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")
	name := FormatMessageType(f.StandardID())

	result := fmt.Sprintf("[%s] %s (0x%03X) len=%d  %s\n", timestamp, name, f.StandardID(), f.Len, f.HexPayload())

	msg, err := Decode(f)
	if err != nil {
		return result + fmt.Sprintf("  (undecodable: %v)\n", err)
	}
	return result + FormatMessage(msg)
}

// FormatMessageType returns the human-readable name for an identifier
func FormatMessageType(id uint32) string {
	switch id & StandardMask {
	case IDEnable:
		return "ENABLE"
	case IDCommand:
		return "COMMAND"
	case IDFeedback:
		return "FEEDBACK"
	case IDTemperatureGains:
		return "TEMPERATURE_GAINS"
	case IDSetpoint:
		return "SETPOINT"
	case IDFlowGains:
		return "FLOW_GAINS"
	default:
		return "UNKNOWN"
	}
}

// FormatMessage formats the decoded fields of a message
func FormatMessage(m Message) string {
	switch v := m.(type) {
	case Enable:
		return "  (no payload)\n"

	case Command:
		return fmt.Sprintf("  Pump: %d rpm, Fan: %d rpm\n", v.OmegaRPM, v.VRPM)

	case Feedback:
		return fmt.Sprintf("  Ts: %s, Th: %s, Tc: %s, Fan(prev): %d rpm, dt: %d ms\n",
			formatTenths(v.Ts), formatTenths(v.Th), formatTenths(v.Tc), v.VPrevRPM(), v.DtMS)

	case Setpoint:
		return fmt.Sprintf("  Target: %s\n", formatTenths(v.Ts))

	case TemperatureGains:
		kp, ki, kd, kaw := v.Gains()
		return fmt.Sprintf("  KpT: %s, KiT: %s, KdT: %s, kawT: %s\n", kp, ki, kd, kaw)

	case FlowGains:
		kp, ki, kaw, kvw, kwv := v.Gains()
		return fmt.Sprintf("  Kpm: %s, Kim: %s, kawm: %s, kvw: %s, kwv: %s\n", kp, ki, kaw, kvw, kwv)

	default:
		return fmt.Sprintf("  %T\n", m)
	}
}

func formatTenths(t int16) string {
	sign := ""
	v := int(t)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%d°C", sign, v/10, v%10)
}
