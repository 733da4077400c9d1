// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import (
	"math"
	"time"
)

// Quantizers round to nearest (half away from zero) and saturate to the
// field range. NaN quantizes to zero.

// QuantizeTenths packs a value into signed 0.1 units.
func QuantizeTenths(x float64) int16 {
	return int16(quantize(x*TemperatureScale, math.MinInt16, math.MaxInt16))
}

// QuantizeQ88 packs a value into unsigned 8.8. Negative values clamp to 0.
func QuantizeQ88(x float64) uint16 {
	return uint16(quantize(x*Q88Scale, 0, math.MaxUint16))
}

// QuantizeQ44 packs a value into unsigned 4.4. Negative values clamp to 0.
func QuantizeQ44(x float64) uint8 {
	return uint8(quantize(x*Q44Scale, 0, math.MaxUint8))
}

// QuantizeFanPrev packs a fan speed into the 10 rpm v_prev byte.
func QuantizeFanPrev(rpm float64) uint8 {
	return uint8(quantize(rpm/FanPrevScale, 0, math.MaxUint8))
}

// QuantizeDt packs an elapsed time into whole milliseconds, clamped to
// [1, 255].
func QuantizeDt(d time.Duration) uint8 {
	ms := float64(d) / float64(time.Millisecond)
	return uint8(quantize(ms, 1, math.MaxUint8))
}

func quantize(v, lo, hi float64) int64 {
	if math.IsNaN(v) {
		v = 0
	}
	r := math.Round(v)
	if r < lo {
		r = lo
	}
	if r > hi {
		r = hi
	}
	return int64(r)
}
