// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package plant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/Thermoquad/canloop/internal/transport"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// Step limits; the elapsed time must fit the one-byte dt field.
const (
	MinStep     = 500 * time.Microsecond
	MaxStep     = 255 * time.Millisecond
	DefaultTick = 50 * time.Millisecond
)

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Simulator) { s.log = log }
}

// WithTick sets how often the model is stepped and feedback published.
func WithTick(d time.Duration) Option {
	return func(s *Simulator) { s.tick = d }
}

// WithStep fixes the integration step instead of using the tick.
func WithStep(d time.Duration) Option {
	return func(s *Simulator) { s.step = d }
}

// Simulator runs the plant model on a bus. It consumes Command frames and
// publishes a Feedback frame every tick. The last command is held until a
// new one arrives.
type Simulator struct {
	bus  transport.Bus
	log  logr.Logger
	tick time.Duration
	step time.Duration

	mu       sync.Mutex
	state    State
	omega    float64
	v        float64
	commands uint64
}

// NewSimulator creates a simulator starting from initial and subscribes it
// to bus.
func NewSimulator(bus transport.Bus, initial State, opts ...Option) (*Simulator, error) {
	s := &Simulator{
		bus:   bus,
		log:   logr.Discard(),
		tick:  DefaultTick,
		state: initial,
		v:     initial.VPrev,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tick <= 0 {
		return nil, fmt.Errorf("tick must be positive, got %v", s.tick)
	}
	if s.step == 0 {
		s.step = s.tick
	}
	s.step = min(max(s.step, MinStep), MaxStep)
	s.log = s.log.WithName("plant")

	bus.Subscribe(s.handle)
	return s, nil
}

func (s *Simulator) handle(f loopbus.Frame) {
	if !f.IsStandardData() || f.StandardID() != loopbus.IDCommand {
		return
	}
	cmd, err := loopbus.DecodeCommand(f.Payload())
	if err != nil {
		s.log.V(1).Info("ignoring command", "reason", err.Error())
		return
	}

	s.mu.Lock()
	s.omega = sat(float64(cmd.OmegaRPM), 0, OmegaMax)
	s.v = sat(float64(cmd.VRPM), 0, VMax)
	s.commands++
	s.mu.Unlock()
	s.log.V(1).Info("RX", "omega", cmd.OmegaRPM, "v", cmd.VRPM)
}

// Command returns the pump and fan speeds currently applied.
func (s *Simulator) Command() (omega, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.omega, s.v
}

// Commands returns the number of command frames received.
func (s *Simulator) Commands() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

// State returns the current plant state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick advances the model one step and publishes feedback.
func (s *Simulator) Tick() error {
	s.mu.Lock()
	s.state = s.state.Step(s.omega, s.v, s.step.Seconds())
	st := s.state
	s.mu.Unlock()

	f := loopbus.NewFeedbackFrame(loopbus.PlantSample{
		Ts:      st.Ts,
		Th:      st.Th,
		Tc:      st.Tc,
		FanRPM:  st.VPrev,
		Elapsed: s.step,
	})
	if err := s.bus.Publish(f); err != nil {
		return fmt.Errorf("publish feedback: %w", err)
	}
	s.log.V(1).Info("TX", "ts", st.Ts, "th", st.Th, "tc", st.Tc, "mdot", st.Mdot, "v", st.VPrev)
	return nil
}

// Run ticks until ctx is done. Publish failures are logged and the next tick
// tries again; a closed bus ends the run.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info("plant running", "tick", s.tick, "step", s.step)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := s.Tick()
			if errors.Is(err, transport.ErrBusClosed) {
				return err
			}
			if err != nil {
				s.log.Error(err, "failed to send feedback")
			}
		}
	}
}
