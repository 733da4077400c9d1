// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import (
	"fmt"
	"strings"
	"time"
)

// Frame is an immutable snapshot of one bus message: identifier, up to eight
// payload bytes and the payload length. Frames are passed by value so a
// queued copy can never alias the receive buffer it came from.
type Frame struct {
	ID        uint32
	Len       uint8
	Data      [MaxDataLength]byte
	Timestamp time.Time
}

// NewFrame builds a frame from a payload. Bytes past MaxDataLength are
// dropped.
func NewFrame(id uint32, payload []byte) Frame {
	f := Frame{ID: id, Timestamp: time.Now()}
	n := copy(f.Data[:], payload)
	f.Len = uint8(n)
	return f
}

// Payload returns the valid payload bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	return f.Data[:n]
}

// StandardID returns the 11-bit identifier.
func (f Frame) StandardID() uint32 {
	return f.ID & StandardMask
}

// IsStandardData reports whether the frame is a standard-format data frame.
// Extended, remote and error frames never carry loopbus messages.
func (f Frame) IsStandardData() bool {
	return f.ID&(FlagExtended|FlagRemote|FlagError) == 0
}

// HexPayload formats the payload as space-separated hex bytes.
func (f Frame) HexPayload() string {
	var sb strings.Builder
	for i, b := range f.Payload() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
