// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package fixed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromInt(t *testing.T) {
	assert.Equal(t, Q(25<<16), FromInt(25))
	assert.Equal(t, Q(-(200 << 16)), FromInt(-200))
	assert.Equal(t, int64(25), FromInt(25).Int())
}

func TestInt_FloorsNegative(t *testing.T) {
	// -0.5 floors to -1 (arithmetic shift), 0.5 floors to 0.
	assert.Equal(t, int64(-1), (-One / 2).Int())
	assert.Equal(t, int64(0), (One / 2).Int())
}

func TestMul(t *testing.T) {
	tests := []struct {
		name string
		a, b Q
		want Q
	}{
		{"integers", FromInt(130), FromInt(5), FromInt(650)},
		{"negative", FromInt(-3), FromInt(7), FromInt(-21)},
		{"fraction", One / 2, One / 2, One / 4},
		{"zero", FromInt(4000), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mul(tt.a, tt.b))
		})
	}
}

func TestDiv(t *testing.T) {
	// 10 ms in seconds: 10/1000 truncates to 655 raw.
	assert.Equal(t, Q(655), Div(FromInt(10), FromInt(1000)))
	assert.Equal(t, FromInt(4), Div(FromInt(12), FromInt(3)))
	assert.Equal(t, FromInt(-2), Div(FromInt(-6), FromInt(3)))
}

func TestDiv_ZeroPanics(t *testing.T) {
	require.Panics(t, func() { Div(One, 0) })
}

func TestSat(t *testing.T) {
	lo, hi := FromInt(-200), FromInt(200)
	assert.Equal(t, lo, Sat(FromInt(-1000), lo, hi))
	assert.Equal(t, hi, Sat(FromInt(1000), lo, hi))
	assert.Equal(t, FromInt(3), Sat(FromInt(3), lo, hi))
}

func TestFromTenths(t *testing.T) {
	assert.Equal(t, FromInt(20), FromTenths(200))
	assert.Equal(t, FromInt(-40), FromTenths(-400))
	// 22.5 °C is exactly representable.
	assert.Equal(t, FromInt(22)+One/2, FromTenths(225))
	// 0.1 truncates toward zero on both sides.
	assert.Equal(t, Q(6553), FromTenths(1))
	assert.Equal(t, Q(-6553), FromTenths(-1))
}

func TestWireWidening(t *testing.T) {
	// 100.5 in 8.8 is 25728.
	assert.Equal(t, FromInt(100)+One/2, FromQ88(25728))
	// 5.0 in 4.4 is 80.
	assert.Equal(t, FromInt(5), FromQ44(80))
	assert.Equal(t, Q(255<<12), FromQ44(255))
}

func TestFromFloat(t *testing.T) {
	// 6553.6 rounds to nearest, unlike One/10 which truncates.
	assert.Equal(t, Q(6554), FromFloat(0.1))
	assert.Equal(t, Q(6553), One/10)
	assert.Equal(t, Q(0), FromFloat(math.NaN()))
	assert.InDelta(t, -0.15, FromFloat(-0.15).Float64(), 1.0/65536)

	assert.Equal(t, MaxQ, FromFloat(1e300))
	assert.Equal(t, MinQ, FromFloat(-1e300))
	assert.Equal(t, MaxQ, FromFloat(math.Inf(1)))
	assert.Equal(t, MinQ, FromFloat(math.Inf(-1)))
}
