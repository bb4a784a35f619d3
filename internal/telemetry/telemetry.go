// Package telemetry samples hardware/runtime counters around inference
// calls. Collectors are best-effort: a sensor that is unavailable
// yields zero fields, never an error, so a failed sample can't fail a
// test.
package telemetry

import (
	"context"
	"time"
)

// Snapshot is a point-in-time reading. Fields the collector could not
// obtain stay zero; the engine attaches it to results uninterpreted.
type Snapshot struct {
	CollectedAt      time.Time `json:"collected_at"`
	CPUPercent       float64   `json:"cpu_percent,omitempty"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes,omitempty"`
	MemoryPercent    float64   `json:"memory_percent,omitempty"`
	GPUUtilization   float64   `json:"gpu_utilization,omitempty"`
	GPUMemoryUsedMiB float64   `json:"gpu_memory_used_mib,omitempty"`
	GPUTemperatureC  float64   `json:"gpu_temperature_c,omitempty"`
}

// Collector samples counters. Sample must not block longer than a
// bounded internal timeout and must not panic or error on transient
// sensor unavailability.
type Collector interface {
	Sample(ctx context.Context) Snapshot
}

// Nop collects nothing.
type Nop struct{}

func (Nop) Sample(context.Context) Snapshot {
	return Snapshot{CollectedAt: time.Now().UTC()}
}
