// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import (
	"encoding/binary"
	"fmt"
)

// Every loopbus frame this package emits is a full 8-byte payload with the
// unused tail zeroed.

// EncodeCommand packs a Command. Bytes 4-7 are reserved and always zero.
func EncodeCommand(c Command) [CommandLength]byte {
	var b [CommandLength]byte
	binary.LittleEndian.PutUint16(b[0:2], c.OmegaRPM)
	binary.LittleEndian.PutUint16(b[2:4], c.VRPM)
	return b
}

// EncodeFeedback packs a Feedback. DtMS is sent as-is, including zero.
func EncodeFeedback(f Feedback) [FeedbackLength]byte {
	var b [FeedbackLength]byte
	binary.LittleEndian.PutUint16(b[0:2], uint16(f.Ts))
	binary.LittleEndian.PutUint16(b[2:4], uint16(f.Th))
	binary.LittleEndian.PutUint16(b[4:6], uint16(f.Tc))
	b[6] = f.VPrev
	b[7] = f.DtMS
	return b
}

// EncodeSetpoint packs a Setpoint.
func EncodeSetpoint(s Setpoint) [MaxDataLength]byte {
	var b [MaxDataLength]byte
	binary.LittleEndian.PutUint16(b[0:2], uint16(s.Ts))
	return b
}

// EncodeTemperatureGains packs a TemperatureGains.
func EncodeTemperatureGains(g TemperatureGains) [MaxDataLength]byte {
	var b [MaxDataLength]byte
	binary.LittleEndian.PutUint16(b[0:2], g.KpT)
	binary.LittleEndian.PutUint16(b[2:4], g.KiT)
	binary.LittleEndian.PutUint16(b[4:6], g.KdT)
	b[6] = g.KawT
	return b
}

// EncodeFlowGains packs a FlowGains.
func EncodeFlowGains(g FlowGains) [MaxDataLength]byte {
	var b [MaxDataLength]byte
	binary.LittleEndian.PutUint16(b[0:2], g.Kpm)
	binary.LittleEndian.PutUint16(b[2:4], g.Kim)
	b[4] = g.Kawm
	b[5] = g.Kvw
	b[6] = g.Kwv
	return b
}

// Encode builds the frame carrying m.
func Encode(m Message) (Frame, error) {
	var data [MaxDataLength]byte
	switch v := m.(type) {
	case Enable:
	case Command:
		data = EncodeCommand(v)
	case Feedback:
		data = EncodeFeedback(v)
	case Setpoint:
		data = EncodeSetpoint(v)
	case TemperatureGains:
		data = EncodeTemperatureGains(v)
	case FlowGains:
		data = EncodeFlowGains(v)
	default:
		return Frame{}, fmt.Errorf("cannot encode %T: %w", m, ErrUnknownID)
	}
	return NewFrame(m.MessageID(), data[:]), nil
}
