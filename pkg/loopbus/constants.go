// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package loopbus implements the canloop bus protocol: the fixed 8-byte
// payload layouts exchanged between the controller, the plant and the
// parameter-setting tool over a CAN-style broadcast bus.
//
// All multi-byte fields are little-endian. Frames with an unknown identifier
// are ignored by receivers; frames with a known identifier but an undersized
// payload are rejected without any state change.
package loopbus

// Frame limits
const (
	MaxDataLength = 8
	CommandLength = 8
)

// CAN identifier flags and masks (Linux can_id layout)
const (
	FlagExtended = 0x80000000
	FlagRemote   = 0x40000000
	FlagError    = 0x20000000

	StandardMask = 0x7FF
)

// Message identifiers
const (
	IDEnable           = 0x101 // any node → controller, mode transition only
	IDCommand          = 0x201 // controller → plant
	IDFeedback         = 0x202 // plant → controller
	IDTemperatureGains = 0x300 // parameter tool → controller
	IDSetpoint         = 0x301 // parameter tool → controller
	IDFlowGains        = 0x302 // parameter tool → controller
)

// Minimum payload lengths per identifier
const (
	FeedbackLength         = 8 // exact
	SetpointMinLength      = 2
	TemperatureGainsLength = 7
	FlowGainsLength        = 7
)

// Physical scales used on the wire
const (
	TemperatureScale = 10  // 0.1 °C per LSB
	FanPrevScale     = 10  // 10 rpm per LSB of v_prev
	Q88Scale         = 256 // unsigned 8.8
	Q44Scale         = 16  // unsigned 4.4
)
