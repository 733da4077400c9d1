// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package fixed implements the signed Q16.16 arithmetic shared by every
// canloop node.
//
// Values are carried in a 64-bit word so intermediate products of bounded
// gains and physical quantities never wrap. All operations are deterministic
// integer arithmetic; two nodes fed the same inputs compute bit-identical
// results.
package fixed

import (
	"fmt"
	"math"
)

// FracBits is the number of fractional bits.
const FracBits = 16

// Q is a signed Q16.16 fixed-point number (value = raw / 65536).
type Q int64

// One is 1.0 in Q16.16.
const One Q = 1 << FracBits

// FromInt converts an integer to Q16.16.
func FromInt(x int) Q {
	return Q(int64(x) << FracBits)
}

// Extremes of the raw representation.
const (
	MaxQ Q = math.MaxInt64
	MinQ Q = math.MinInt64
)

// FromFloat converts a float to the nearest Q16.16 value, saturating at
// MinQ and MaxQ. NaN maps to zero. Intended for configuration only; the
// control path never touches floats.
func FromFloat(f float64) Q {
	if math.IsNaN(f) {
		return 0
	}
	r := math.Round(f * float64(One))
	switch {
	case r >= math.MaxInt64:
		return MaxQ
	case r <= math.MinInt64:
		return MinQ
	}
	return Q(r)
}

// FromTenths converts a value in 0.1 units (e.g. 0.1 °C) to Q16.16,
// truncating toward zero.
func FromTenths(t int16) Q {
	return Q(int64(t) * int64(One) / 10)
}

// FromQ88 widens an unsigned 8.8 wire value to Q16.16.
func FromQ88(raw uint16) Q {
	return Q(int64(raw) << 8)
}

// FromQ44 widens an unsigned 4.4 wire value to Q16.16.
func FromQ44(raw uint8) Q {
	return Q(int64(raw) << 12)
}

// Int returns the integer part, rounding toward negative infinity.
func (q Q) Int() int64 {
	return int64(q) >> FracBits
}

// Float64 returns the value as a float. For display and tests only.
func (q Q) Float64() float64 {
	return float64(q) / float64(One)
}

// String formats the value with four decimals.
func (q Q) String() string {
	return fmt.Sprintf("%.4f", q.Float64())
}

// Mul multiplies two Q16.16 values.
func Mul(a, b Q) Q {
	return Q((int64(a) * int64(b)) >> FracBits)
}

// Div divides a by b. The divisor must be non-zero; callers guarantee this
// structurally (see the derivative time-constant floor in the controller).
func Div(a, b Q) Q {
	return Q((int64(a) << FracBits) / int64(b))
}

// Sat clamps x to [lo, hi].
func Sat(x, lo, hi Q) Q {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
