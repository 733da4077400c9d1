// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package plant

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/canloop/internal/transport"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// ============================================================
// Model
// ============================================================

func TestSystemPower(t *testing.T) {
	assert.InDelta(t, 180.0, systemPower(60), 1e-9)
	assert.InDelta(t, 180*1.08, systemPower(100), 1e-9)
	assert.Equal(t, 0.0, systemPower(-1000))
}

func TestRadiatorUA(t *testing.T) {
	assert.Equal(t, radiatorUA0, radiatorUA(0))
	assert.Equal(t, radiatorUA0, radiatorUA(-50))
	assert.InDelta(t, radiatorUA0+radiatorFan*math.Pow(600, radiatorExp), radiatorUA(600), 1e-9)
	assert.Equal(t, radiatorUA(600), radiatorUA(2800))
	assert.Less(t, radiatorUA(100), radiatorUA(300))
}

func TestWaterViscosity(t *testing.T) {
	assert.Greater(t, waterViscosity(20), waterViscosity(60))
	assert.Equal(t, waterViscosity(120), waterViscosity(200))
	assert.Equal(t, waterViscosity(-10), waterViscosity(-40))
}

func stepN(s State, omega, v float64, n int) State {
	for i := 0; i < n; i++ {
		s = s.Step(omega, v, 0.05)
	}
	return s
}

func TestStep_PumpDrivesFlow(t *testing.T) {
	idle := stepN(DefaultState(), 0, 0, 100)
	pumped := stepN(DefaultState(), 4000, 0, 100)

	assert.Less(t, idle.Mdot, DefaultState().Mdot)
	assert.Greater(t, pumped.Mdot, DefaultState().Mdot)
}

func TestStep_FanCoolsColdLeg(t *testing.T) {
	still := stepN(DefaultState(), 2000, 0, 200)
	cooled := stepN(DefaultState(), 2000, 2800, 200)

	assert.Less(t, cooled.Tc, still.Tc)
	assert.Equal(t, 2800.0, cooled.VPrev)
	assert.Equal(t, 0.0, still.VPrev)
}

func TestStep_Clamps(t *testing.T) {
	s := State{Ts: 5000, Th: -5000, Tc: 2000, Mdot: -3}.Step(9999, 9999, 0.01)

	assert.LessOrEqual(t, s.Ts, TsMax)
	assert.GreaterOrEqual(t, s.Th, TempMin)
	assert.LessOrEqual(t, s.Tc, LegMax)
	assert.GreaterOrEqual(t, s.Mdot, 0.0)
	assert.Equal(t, VMax, s.VPrev)

	s = DefaultState().Step(0, -10, 0.01)
	assert.Equal(t, 0.0, s.VPrev)
}

func TestStep_StaysFinite(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := DefaultState()
	for i := 0; i < 5000; i++ {
		s = s.Step(rng.Float64()*OmegaMax, rng.Float64()*VMax, 0.0005+rng.Float64()*0.25)
		for _, x := range []float64{s.Ts, s.Th, s.Tc, s.Mdot} {
			require.False(t, math.IsNaN(x) || math.IsInf(x, 0), "state diverged at %d: %+v", i, s)
		}
	}
}

// ============================================================
// Simulator
// ============================================================

type feedbackLog struct {
	mu     sync.Mutex
	frames []loopbus.Feedback
}

func (l *feedbackLog) add(f loopbus.Frame) {
	if f.StandardID() != loopbus.IDFeedback {
		return
	}
	fb, err := loopbus.DecodeFeedback(f.Payload())
	if err != nil {
		return
	}
	l.mu.Lock()
	l.frames = append(l.frames, fb)
	l.mu.Unlock()
}

func (l *feedbackLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func (l *feedbackLog) last() loopbus.Feedback {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames[len(l.frames)-1]
}

type simFixture struct {
	ctl *transport.Loopback
	bus *transport.Loopback
	sim *Simulator
	log *feedbackLog
}

func newSimFixture(t *testing.T, opts ...Option) simFixture {
	t.Helper()
	hub := transport.NewHub()
	fx := simFixture{
		ctl: hub.Endpoint("controller"),
		bus: hub.Endpoint("plant"),
		log: &feedbackLog{},
	}
	fx.ctl.Subscribe(fx.log.add)

	var err error
	fx.sim, err = NewSimulator(fx.bus, DefaultState(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go fx.ctl.Run(ctx)
	go fx.bus.Run(ctx)
	t.Cleanup(func() {
		cancel()
		fx.ctl.Close()
		fx.bus.Close()
	})
	return fx
}

func TestSimulator_ClampsAndHoldsCommand(t *testing.T) {
	fx := newSimFixture(t, WithStep(20*time.Millisecond))

	require.NoError(t, fx.ctl.Publish(loopbus.NewCommandFrame(5000, 1000)))
	require.Eventually(t, func() bool { return fx.sim.Commands() == 1 }, time.Second, 5*time.Millisecond)

	omega, v := fx.sim.Command()
	assert.Equal(t, 4000.0, omega)
	assert.Equal(t, 1000.0, v)

	require.NoError(t, fx.sim.Tick())
	require.NoError(t, fx.sim.Tick())
	omega, v = fx.sim.Command()
	assert.Equal(t, 4000.0, omega)
	assert.Equal(t, 1000.0, v)

	require.Eventually(t, func() bool { return fx.log.count() == 2 }, time.Second, 5*time.Millisecond)
	fb := fx.log.last()
	st := fx.sim.State()
	assert.Equal(t, uint8(20), fb.DtMS)
	assert.Equal(t, uint8(100), fb.VPrev)
	assert.InDelta(t, st.Ts, fb.SystemTemp().Float64(), 0.06)
	assert.InDelta(t, st.Tc, fb.ColdTemp().Float64(), 0.06)
}

func TestSimulator_IgnoresShortCommand(t *testing.T) {
	fx := newSimFixture(t)

	require.NoError(t, fx.ctl.Publish(loopbus.NewFrame(loopbus.IDCommand, []byte{1, 2})))
	require.NoError(t, fx.ctl.Publish(loopbus.NewSetpointFrame(30)))
	require.NoError(t, fx.ctl.Publish(loopbus.NewCommandFrame(100, 200)))

	require.Eventually(t, func() bool { return fx.sim.Commands() == 1 }, time.Second, 5*time.Millisecond)
	omega, v := fx.sim.Command()
	assert.Equal(t, 100.0, omega)
	assert.Equal(t, 200.0, v)
}

func TestSimulator_StepLimits(t *testing.T) {
	fx := newSimFixture(t, WithStep(time.Second))
	require.NoError(t, fx.sim.Tick())
	require.Eventually(t, func() bool { return fx.log.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint8(255), fx.log.last().DtMS)

	_, err := NewSimulator(transport.NewHub().Endpoint("x"), DefaultState(), WithTick(0))
	assert.Error(t, err)
}

func TestSimulator_Run(t *testing.T) {
	fx := newSimFixture(t, WithTick(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.sim.Run(ctx) }()

	require.Eventually(t, func() bool { return fx.log.count() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint8(10), fx.log.last().DtMS)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSimulator_RunStopsOnClosedBus(t *testing.T) {
	fx := newSimFixture(t, WithTick(5*time.Millisecond))
	fx.bus.Close()

	err := fx.sim.Run(context.Background())
	assert.ErrorIs(t, err, transport.ErrBusClosed)
}
