package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// DockerStats samples CPU and memory of the container running the
// inference server, for setups where the endpoint under test is a
// local containerized llama.cpp or TensorRT server.
type DockerStats struct {
	cli       *client.Client
	container string
	log       *slog.Logger
}

// NewDockerStats resolves a docker client from the environment. The
// container may be a name or id.
func NewDockerStats(containerName string, log *slog.Logger) (*DockerStats, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &DockerStats{cli: cli, container: containerName, log: log}, nil
}

// Close releases the docker client.
func (d *DockerStats) Close() error { return d.cli.Close() }

// Sample takes a one-shot stats reading. Any failure logs and returns
// a zero snapshot.
func (d *DockerStats) Sample(ctx context.Context) Snapshot {
	snap := Snapshot{CollectedAt: time.Now().UTC()}

	sampleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.cli.ContainerStats(sampleCtx, d.container, client.ContainerStatsOptions{Stream: false})
	if err != nil {
		d.log.Warn("container stats unavailable", "container", d.container, "error", err)
		return snap
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		d.log.Warn("decoding container stats", "container", d.container, "error", err)
		return snap
	}

	snap.CPUPercent = cpuPercent(&stats)
	snap.MemoryUsedBytes = stats.MemoryStats.Usage
	if stats.MemoryStats.Limit > 0 {
		snap.MemoryPercent = float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100.0
	}
	return snap
}

// cpuPercent applies docker's own CLI formula over the two usage
// readings a one-shot stats call carries.
func cpuPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}
	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / sysDelta * cpus * 100.0
}
