// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// ErrMalformedSLCAN is returned by ParseSLCAN for lines that are not frames.
var ErrMalformedSLCAN = errors.New("malformed slcan frame")

// Lawicel bitrate codes
var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// SLCAN is a serial-line CAN adapter speaking the Lawicel ASCII protocol.
type SLCAN struct {
	port     io.ReadWriteCloser
	name     string
	handlers handlers
	writeMu  sync.Mutex
	closed   atomic.Bool
	once     sync.Once
}

// OpenSLCAN opens a serial port and brings the adapter onto the bus at the
// given CAN bitrate.
func OpenSLCAN(portName string, baudRate, bitrate int) (*SLCAN, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	s, err := NewSLCAN(port, fmt.Sprintf("SLCAN: %s @ %d baud, %d bit/s", portName, baudRate, bitrate), bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// NewSLCAN initializes an adapter on an already-open port.
func NewSLCAN(port io.ReadWriteCloser, name string, bitrate int) (*SLCAN, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported CAN bitrate %d", bitrate)
	}

	s := &SLCAN{port: port, name: name}
	// Close any stale channel first; the adapter may answer with BELL.
	for _, cmd := range []string{"C", code, "O"} {
		if err := s.writeLine(cmd); err != nil {
			return nil, fmt.Errorf("slcan init %q: %w", cmd, err)
		}
	}
	return s, nil
}

func (s *SLCAN) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.port, line+"\r")
	return err
}

// Subscribe implements Bus.
func (s *SLCAN) Subscribe(h Handler) { s.handlers.add(h) }

// Publish implements Bus.
func (s *SLCAN) Publish(f loopbus.Frame) error {
	if s.closed.Load() {
		return ErrBusClosed
	}
	return s.writeLine(EncodeSLCAN(f))
}

// Run implements Bus. Lines that are not frames (acks, status replies) are
// skipped.
func (s *SLCAN) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrBusClosed
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	scanner := bufio.NewScanner(s.port)
	scanner.Split(scanCR)
	for scanner.Scan() {
		f, err := ParseSLCAN(scanner.Text())
		if err != nil {
			continue
		}
		s.handlers.dispatch(f)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.closed.Load() {
		return ErrBusClosed
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", s.name, err)
	}
	return io.EOF
}

// Close implements Bus.
func (s *SLCAN) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.writeLine("C")
		err = s.port.Close()
	})
	return err
}

// Name implements Bus.
func (s *SLCAN) Name() string { return s.name }

// EncodeSLCAN formats a frame as a Lawicel command without the trailing CR.
func EncodeSLCAN(f loopbus.Frame) string {
	var sb strings.Builder
	ext := f.ID&loopbus.FlagExtended != 0
	rtr := f.ID&loopbus.FlagRemote != 0

	switch {
	case ext && rtr:
		sb.WriteByte('R')
	case ext:
		sb.WriteByte('T')
	case rtr:
		sb.WriteByte('r')
	default:
		sb.WriteByte('t')
	}

	if ext {
		fmt.Fprintf(&sb, "%08X", f.ID&extendedMask)
	} else {
		fmt.Fprintf(&sb, "%03X", f.StandardID())
	}
	fmt.Fprintf(&sb, "%d", len(f.Payload()))
	if !rtr {
		for _, b := range f.Payload() {
			fmt.Fprintf(&sb, "%02X", b)
		}
	}
	return sb.String()
}

// extendedMask covers a 29-bit identifier.
const extendedMask = 0x1FFFFFFF

// ParseSLCAN parses one Lawicel frame line (without CR).
func ParseSLCAN(line string) (loopbus.Frame, error) {
	if len(line) < 2 {
		return loopbus.Frame{}, ErrMalformedSLCAN
	}

	var idLen int
	var flags, maxID uint32
	switch line[0] {
	case 't':
		idLen, maxID = 3, loopbus.StandardMask
	case 'r':
		idLen, flags, maxID = 3, loopbus.FlagRemote, loopbus.StandardMask
	case 'T':
		idLen, flags, maxID = 8, loopbus.FlagExtended, extendedMask
	case 'R':
		idLen, flags, maxID = 8, loopbus.FlagExtended|loopbus.FlagRemote, extendedMask
	default:
		return loopbus.Frame{}, ErrMalformedSLCAN
	}

	if len(line) < 1+idLen+1 {
		return loopbus.Frame{}, ErrMalformedSLCAN
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return loopbus.Frame{}, fmt.Errorf("%w: id: %v", ErrMalformedSLCAN, err)
	}
	if uint32(id) > maxID {
		return loopbus.Frame{}, fmt.Errorf("%w: id 0x%X exceeds 0x%X", ErrMalformedSLCAN, id, maxID)
	}
	n := int(line[1+idLen] - '0')
	if n < 0 || n > loopbus.MaxDataLength {
		return loopbus.Frame{}, fmt.Errorf("%w: length %q", ErrMalformedSLCAN, line[1+idLen])
	}

	data := line[2+idLen:]
	var payload []byte
	if flags&loopbus.FlagRemote == 0 {
		if len(data) < 2*n {
			return loopbus.Frame{}, fmt.Errorf("%w: %d data digits for length %d", ErrMalformedSLCAN, len(data), n)
		}
		payload = make([]byte, n)
		for i := 0; i < n; i++ {
			b, err := strconv.ParseUint(data[2*i:2*i+2], 16, 8)
			if err != nil {
				return loopbus.Frame{}, fmt.Errorf("%w: data: %v", ErrMalformedSLCAN, err)
			}
			payload[i] = byte(b)
		}
	}

	f := loopbus.NewFrame(uint32(id)|flags, payload)
	if flags&loopbus.FlagRemote != 0 {
		f.Len = uint8(n)
	}
	return f, nil
}

// scanCR splits on carriage returns, tolerating LF and BELL as separators.
func scanCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' || b == 0x07 {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
