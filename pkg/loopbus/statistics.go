// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package loopbus

import (
	"fmt"
	"sort"
	"time"
)

// Statistics tracks frame counts and error rates for a bus monitor
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	NonDataFrames   uint64
	UnknownFrames   uint64
	ShortFrames     uint64
	AnomalousValues uint64
	ByID            map[uint32]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByID:           make(map[uint32]uint64),
	}
}

// Update updates statistics based on a frame and its validation result
func (s *Statistics) Update(f Frame, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if f.IsStandardData() {
		s.ByID[f.StandardID()]++
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyNotData:
			s.NonDataFrames++
		case AnomalyUnknownID:
			s.UnknownFrames++
		case AnomalyShortPayload, AnomalyLengthMismatch:
			s.ShortFrames++
		default:
			s.AnomalousValues++
		}
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ShortFrames+s.AnomalousValues) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ShortFrames > 0 {
		result += fmt.Sprintf("Short Payloads:  %8d\n", s.ShortFrames)
	}
	if s.UnknownFrames > 0 {
		result += fmt.Sprintf("Unknown IDs:     %8d\n", s.UnknownFrames)
	}
	if s.NonDataFrames > 0 {
		result += fmt.Sprintf("Non-data Frames: %8d\n", s.NonDataFrames)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous:       %8d\n", s.AnomalousValues)
	}

	ids := make([]uint32, 0, len(s.ByID))
	for id := range s.ByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		result += fmt.Sprintf("  0x%03X %-18s %8d\n", id, FormatMessageType(id), s.ByID[id])
	}

	result += fmt.Sprintf("Rate: %.1f frames/sec, %.2f errors/sec\n", s.FrameRate, s.ErrorRate)
	return result
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
