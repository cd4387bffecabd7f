// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"fmt"
	"time"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

// Statistics tracks bus transactions and their outcomes
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Transactions       uint64
	Acknowledged       uint64
	DeviceRejected     uint64
	Conflicts          uint64
	MalformedResponses uint64
	Timeouts           uint64
	TransportErrors    uint64
	UnsafeRejections   uint64
	ValidationErrors   uint64
	StaleBytes         uint64

	// Latency of acknowledged transactions
	LastLatency  time.Duration
	MaxLatency   time.Duration
	TotalLatency time.Duration

	// Rates (calculated)
	TransactionRate float64 // transactions/sec
	ErrorRate       float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one transaction that reached the bus
func (s *Statistics) Update(latency time.Duration, err error) {
	s.Transactions++
	s.LastUpdateTime = time.Now()

	if err == nil {
		s.Acknowledged++
		s.LastLatency = latency
		s.TotalLatency += latency
		if latency > s.MaxLatency {
			s.MaxLatency = latency
		}
		return
	}

	switch fiu.CodeOf(err) {
	case fiu.CodeDeviceRejected:
		s.DeviceRejected++
	case fiu.CodeConflictingRequest:
		s.Conflicts++
	case fiu.CodeMalformedResponse:
		s.MalformedResponses++
	case fiu.CodeResponseTimeout:
		s.Timeouts++
	default:
		s.TransportErrors++
	}
}

// Errors returns the number of transactions that did not end in an ack
func (s *Statistics) Errors() uint64 {
	return s.DeviceRejected + s.Conflicts + s.MalformedResponses + s.Timeouts + s.TransportErrors
}

// AverageLatency returns the mean latency of acknowledged transactions
func (s *Statistics) AverageLatency() time.Duration {
	if s.Acknowledged == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Acknowledged)
}

// CalculateRates calculates transaction and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TransactionRate = float64(s.Transactions) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var ackPercent float64
	if s.Transactions > 0 {
		ackPercent = float64(s.Acknowledged) * 100.0 / float64(s.Transactions)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Transactions:    %8d\n", s.Transactions)
	result += fmt.Sprintf("Acknowledged:    %8d (%.1f%%)\n", s.Acknowledged, ackPercent)

	if s.DeviceRejected > 0 {
		result += fmt.Sprintf("Rejected:        %8d\n", s.DeviceRejected)
	}
	if s.Conflicts > 0 {
		result += fmt.Sprintf("Conflicts:       %8d\n", s.Conflicts)
	}
	if s.MalformedResponses > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.MalformedResponses)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errs:  %8d\n", s.TransportErrors)
	}
	if s.UnsafeRejections > 0 || s.ValidationErrors > 0 {
		result += fmt.Sprintf("Refused locally: %8d\n", s.UnsafeRejections+s.ValidationErrors)
		if s.UnsafeRejections > 0 {
			result += fmt.Sprintf("  Unsafe:           %5d\n", s.UnsafeRejections)
		}
		if s.ValidationErrors > 0 {
			result += fmt.Sprintf("  Invalid input:    %5d\n", s.ValidationErrors)
		}
	}
	if s.StaleBytes > 0 {
		result += fmt.Sprintf("Stale Bytes:     %8d\n", s.StaleBytes)
	}

	result += fmt.Sprintf("Avg Latency:     %8s\n", s.AverageLatency().Round(time.Microsecond))
	result += fmt.Sprintf("Max Latency:     %8s\n", s.MaxLatency.Round(time.Microsecond))
	result += fmt.Sprintf("Rate:            %8.1f tx/sec\n", s.TransactionRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
