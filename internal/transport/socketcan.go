// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brutella/can"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// SocketCAN is a Linux SocketCAN interface (can0, vcan0, ...).
type SocketCAN struct {
	iface    string
	bus      *can.Bus
	handlers handlers
	closed   atomic.Bool
	once     sync.Once
}

// OpenSocketCAN binds a raw CAN socket to the named interface.
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open CAN interface %s: %w", iface, err)
	}

	s := &SocketCAN{iface: iface, bus: bus}
	bus.SubscribeFunc(func(f can.Frame) {
		s.handlers.dispatch(fromCAN(f))
	})
	return s, nil
}

// Subscribe implements Bus.
func (s *SocketCAN) Subscribe(h Handler) { s.handlers.add(h) }

// Publish implements Bus.
func (s *SocketCAN) Publish(f loopbus.Frame) error {
	if s.closed.Load() {
		return ErrBusClosed
	}
	if err := s.bus.Publish(toCAN(f)); err != nil {
		return fmt.Errorf("write %s: %w", s.iface, err)
	}
	return nil
}

// Run implements Bus.
func (s *SocketCAN) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrBusClosed
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.bus.ConnectAndPublish()
	}()

	select {
	case <-ctx.Done():
		s.Close()
		<-errc
		return ctx.Err()
	case err := <-errc:
		if s.closed.Load() {
			return ErrBusClosed
		}
		return fmt.Errorf("read %s: %w", s.iface, err)
	}
}

// Close implements Bus.
func (s *SocketCAN) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.bus.Disconnect()
	})
	return err
}

// Name implements Bus.
func (s *SocketCAN) Name() string { return fmt.Sprintf("SocketCAN: %s", s.iface) }

func toCAN(f loopbus.Frame) can.Frame {
	return can.Frame{
		ID:     f.ID,
		Length: f.Len,
		Data:   f.Data,
	}
}

func fromCAN(f can.Frame) loopbus.Frame {
	out := loopbus.NewFrame(f.ID, nil)
	out.Len = f.Length
	if out.Len > loopbus.MaxDataLength {
		out.Len = loopbus.MaxDataLength
	}
	out.Data = f.Data
	return out
}
