// Package strategy decides whether a run can keep its working set in memory.
package strategy

import (
	"context"
	"fmt"
	"math"
)

// Decision is the execution strategy chosen for a run.
type Decision int

const (
	InMemory Decision = iota
	DiskBacked
)

func (d Decision) String() string {
	if d == DiskBacked {
		return "disk"
	}
	return "memory"
}

const (
	// DefaultRowBytes is a deliberately short CSV row, so the row count derived
	// from the file size errs high.
	DefaultRowBytes = 24
	// DefaultRecordFootprint approximates one stored transaction held in a Go map,
	// decimal amount included.
	DefaultRecordFootprint = 128
	// DefaultSafetyFactor covers map growth, allocator fragmentation and GC headroom.
	DefaultSafetyFactor = 3.0
	// DefaultMemoryFraction is the share of available memory a run may plan to use.
	DefaultMemoryFraction = 0.5
)

// Estimator computes a conservative memory bound for an in-memory run.
type Estimator struct {
	RowBytes        uint64
	RecordFootprint uint64
	SafetyFactor    float64
	MemoryFraction  float64
}

// DefaultEstimator returns an Estimator populated with the package defaults.
func DefaultEstimator() Estimator {
	return Estimator{
		RowBytes:        DefaultRowBytes,
		RecordFootprint: DefaultRecordFootprint,
		SafetyFactor:    DefaultSafetyFactor,
		MemoryFraction:  DefaultMemoryFraction,
	}
}

// Validate reports configuration values that would make the estimate meaningless.
func (e Estimator) Validate() error {
	if e.RowBytes == 0 {
		return fmt.Errorf("row bytes must be positive")
	}
	if e.RecordFootprint == 0 {
		return fmt.Errorf("record footprint must be positive")
	}
	if e.SafetyFactor < 1 {
		return fmt.Errorf("safety factor must be at least 1, got %v", e.SafetyFactor)
	}
	if e.MemoryFraction <= 0 || e.MemoryFraction >= 1 {
		return fmt.Errorf("memory fraction must be in (0,1), got %v", e.MemoryFraction)
	}
	return nil
}

// Estimate is the outcome of sizing one input.
type Estimate struct {
	InputBytes     uint64
	AvailableBytes uint64
	EstimatedRows  uint64
	RequiredBytes  uint64
	ThresholdBytes uint64
}

// Estimate sizes an input of inputBytes against availableBytes of free memory. It
// has no side effects. Overflow saturates at math.MaxUint64.
func (e Estimator) Estimate(inputBytes, availableBytes uint64) Estimate {
	rows := inputBytes / e.RowBytes
	if inputBytes%e.RowBytes != 0 {
		rows++
	}

	required := float64(rows) * float64(e.RecordFootprint) * e.SafetyFactor
	threshold := float64(availableBytes) * e.MemoryFraction

	return Estimate{
		InputBytes:     inputBytes,
		AvailableBytes: availableBytes,
		EstimatedRows:  rows,
		RequiredBytes:  saturate(required),
		ThresholdBytes: saturate(threshold),
	}
}

// Select picks InMemory only when the required bound is strictly below the threshold.
func Select(est Estimate) Decision {
	if est.RequiredBytes < est.ThresholdBytes {
		return InMemory
	}
	return DiskBacked
}

// MemoryProvider reports the memory currently available to the process, in bytes.
type MemoryProvider interface {
	AvailableMemory(ctx context.Context) (uint64, error)
}

// StaticMemory is a MemoryProvider returning a fixed amount.
type StaticMemory uint64

func (m StaticMemory) AvailableMemory(context.Context) (uint64, error) {
	return uint64(m), nil
}

// Selector combines an Estimator with a MemoryProvider.
type Selector struct {
	Estimator Estimator
	Memory    MemoryProvider
}

// Choose sizes inputBytes against the provider's current reading. When the provider
// fails the run falls back to DiskBacked and the error is returned alongside.
func (s Selector) Choose(ctx context.Context, inputBytes uint64) (Decision, Estimate, error) {
	available, err := s.Memory.AvailableMemory(ctx)
	if err != nil {
		return DiskBacked, Estimate{InputBytes: inputBytes}, fmt.Errorf("query available memory: %w", err)
	}
	est := s.Estimator.Estimate(inputBytes, available)
	return Select(est), est, nil
}

func saturate(v float64) uint64 {
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}
