// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poller

import (
	"fmt"
	"time"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

// Statistics tracks poll outcomes and rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time
	LastSuccess    time.Time

	// Counters
	TotalPolls      uint64
	GoodPolls       uint64
	Timeouts        uint64
	TransportErrors uint64
	ProtocolErrors  uint64
	OtherErrors     uint64

	// Rates (calculated)
	PollRate  float64 // polls/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one poll
func (s *Statistics) Update(err error) {
	s.TotalPolls++
	s.LastUpdateTime = time.Now()

	if err == nil {
		s.GoodPolls++
		s.LastSuccess = s.LastUpdateTime
		return
	}

	switch vsensor.KindOf(err) {
	case vsensor.KindTimeout:
		s.Timeouts++
	case vsensor.KindTransport:
		s.TransportErrors++
	case vsensor.KindProtocol:
		s.ProtocolErrors++
	default:
		s.OtherErrors++
	}
}

// Errors returns the number of failed polls
func (s *Statistics) Errors() uint64 {
	return s.Timeouts + s.TransportErrors + s.ProtocolErrors + s.OtherErrors
}

// CalculateRates calculates poll and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PollRate = float64(s.TotalPolls) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalPolls == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalPolls)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Polls:     %8d\n", s.TotalPolls)
	result += fmt.Sprintf("Good Polls:      %8d (%.1f%%)\n", s.GoodPolls, percent(s.GoodPolls))

	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (%.1f%%)\n", s.Timeouts, percent(s.Timeouts))
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errs:  %8d (%.1f%%)\n", s.TransportErrors, percent(s.TransportErrors))
	}
	if s.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errs:   %8d (%.1f%%)\n", s.ProtocolErrors, percent(s.ProtocolErrors))
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d (%.1f%%)\n", s.OtherErrors, percent(s.OtherErrors))
	}

	result += fmt.Sprintf("Poll Rate:       %8.1f polls/sec\n", s.PollRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
