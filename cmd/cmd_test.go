// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/canloop/internal/config"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

func TestSetFrames(t *testing.T) {
	frames := setFrames(30, defaultSetParams())
	require.Len(t, frames, 3)
	assert.Equal(t, uint32(loopbus.IDSetpoint), frames[0].ID)
	assert.Equal(t, uint32(loopbus.IDTemperatureGains), frames[1].ID)
	assert.Equal(t, uint32(loopbus.IDFlowGains), frames[2].ID)
	for _, f := range frames {
		assert.Equal(t, uint8(8), f.Len)
	}

	// 30.0 °C is 300 tenths
	assert.Equal(t, []byte{0x2C, 0x01, 0, 0, 0, 0, 0, 0}, frames[0].Payload())

	// 100.6 * 256 = 25753.6, 0.10 * 256 = 25.6, 4 * 256, 5 * 16
	assert.Equal(t, []byte{0x9A, 0x64, 0x1A, 0x00, 0x00, 0x04, 0x50, 0}, frames[1].Payload())

	// negative decoupling gains clamp to zero
	assert.Equal(t, []byte{0x00, 0x82, 0x03, 0x00, 0xA0, 0x00, 0x00, 0}, frames[2].Payload())
}

func TestSetFrames_Options(t *testing.T) {
	p := defaultSetParams()
	p.sendParams = false
	frames := setFrames(25, p)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(loopbus.IDSetpoint), frames[0].ID)

	p.sendEnable = true
	frames = setFrames(25, p)
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(loopbus.IDEnable), frames[0].ID)
}

func TestApplyFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&canIface, "iface", "", "")
	flags.IntVar(&periodMS, "period-ms", 1000, "")
	flags.IntVar(&idleMS, "idle-ms", 3000, "")
	t.Cleanup(func() { canIface, periodMS, idleMS = "", 1000, 3000 })

	require.NoError(t, flags.Parse([]string{"--iface", "vcan7", "--period-ms", "200"}))

	c := config.Default()
	c.Bus.Interface = "from-env"
	c.Node.IdleMS = 900
	applyFlags(flags, c)

	assert.Equal(t, "vcan7", c.Bus.Interface)
	assert.Equal(t, 200, c.Node.PeriodMS)
	assert.Equal(t, 900, c.Node.IdleMS, "unset flags keep lower-precedence values")
}

func TestOpenBus_NothingConfigured(t *testing.T) {
	_, err := OpenBus(context.Background(), config.BusConfig{})
	assert.ErrorIs(t, err, ErrNoBus)
}

func TestRenderFrame(t *testing.T) {
	ok := loopbus.NewSetpointFrame(30)
	assert.Equal(t, loopbus.FormatFrame(ok), renderFrame(ok, loopbus.ValidateFrame(ok)))

	short := loopbus.NewFrame(loopbus.IDFlowGains, []byte{1, 2})
	out := renderFrame(short, loopbus.ValidateFrame(short))
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, "FLOW_GAINS")
	assert.Contains(t, out, "Issue 1:")
}

func TestWaitMatch(t *testing.T) {
	fb := loopbus.NewFeedbackFrame(loopbus.PlantSample{Ts: 20})
	assert.True(t, waitMatch(fb, loopbus.IDFeedback))
	assert.False(t, waitMatch(fb, loopbus.IDCommand))

	short := loopbus.NewFrame(loopbus.IDFeedback, []byte{1, 2, 3})
	assert.False(t, waitMatch(short, loopbus.IDFeedback))

	ext := fb
	ext.ID |= loopbus.FlagExtended
	assert.False(t, waitMatch(ext, loopbus.IDFeedback))
}

func TestBusCensus(t *testing.T) {
	census := newBusCensus()
	start := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		f := loopbus.NewFeedbackFrame(loopbus.PlantSample{Ts: 20})
		f.Timestamp = start.Add(time.Duration(i) * 100 * time.Millisecond)
		census.observe(f)
	}
	census.observe(loopbus.NewFrame(loopbus.IDCommand, []byte{1}))
	ext := loopbus.NewCommandFrame(100, 100)
	ext.ID |= loopbus.FlagExtended
	census.observe(ext)

	seen, others := census.snapshot()
	require.Len(t, seen, 2)
	assert.Equal(t, 1, others)

	assert.Equal(t, uint32(loopbus.IDCommand), seen[0].id)
	assert.Equal(t, 1, seen[0].invalid)
	assert.Zero(t, seen[0].rate())

	assert.Equal(t, uint32(loopbus.IDFeedback), seen[1].id)
	assert.Equal(t, 5, seen[1].count)
	assert.Zero(t, seen[1].invalid)
	assert.InDelta(t, 10.0, seen[1].rate(), 1e-9)

	assert.Equal(t, []string{"controller", "plant"}, trafficRoles(seen))
}

func TestTrafficRoles(t *testing.T) {
	assert.Empty(t, trafficRoles(nil))
	assert.Empty(t, trafficRoles([]idCensus{{id: 0x123}, {id: loopbus.IDEnable}}))
	assert.Equal(t, []string{"parameter tool"}, trafficRoles([]idCensus{{id: loopbus.IDFlowGains}}))
}
