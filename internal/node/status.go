// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package node

import "fmt"

// State is the protocol state of a node.
type State int

const (
	StateNoFeedbackYet State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateNoFeedbackYet:
		return "no_feedback_yet"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of a node.
type Status struct {
	State       State `json:"state"`
	HasFeedback bool  `json:"has_feedback"`
	Armed       bool  `json:"armed"`
	Enabled     bool  `json:"enabled"`

	OmegaRPM uint16  `json:"omega_cmd_rpm"`
	VRPM     uint16  `json:"v_cmd_rpm"`
	Setpoint float64 `json:"setpoint_c"`
	EtaT     float64 `json:"eta_t"`
	EtaM     float64 `json:"eta_m"`

	Received         uint64 `json:"frames_received"`
	Dropped          uint64 `json:"frames_dropped"`
	Ignored          uint64 `json:"frames_ignored"`
	Steps            uint64 `json:"controller_steps"`
	Transmissions    uint64 `json:"transmissions"`
	SendFailures     uint64 `json:"send_failures"`
	WatchdogExpiries uint64 `json:"watchdog_expiries"`
}

// Status returns the current status without blocking the worker.
func (n *Node) Status() Status {
	snap := n.snapshot.Load()
	cmd := unpackCommand(n.command.Load())

	st := Status{
		HasFeedback: snap.hasFeedback,
		Armed:       n.counters.armed.Load(),
		Enabled:     snap.enabled,

		OmegaRPM: cmd.OmegaRPM,
		VRPM:     cmd.VRPM,
		Setpoint: snap.setpoint,
		EtaT:     snap.etaT,
		EtaM:     snap.etaM,

		Received:         n.counters.received.Load(),
		Dropped:          n.counters.dropped.Load(),
		Ignored:          n.counters.ignored.Load(),
		Steps:            n.counters.steps.Load(),
		Transmissions:    n.counters.transmissions.Load(),
		SendFailures:     n.counters.sendFailures.Load(),
		WatchdogExpiries: n.counters.expiries.Load(),
	}
	if snap.hasFeedback {
		st.State = StateActive
	}
	return st
}
