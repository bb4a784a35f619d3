package telemetry

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// NvidiaSMI samples GPU utilization, memory and temperature through
// the nvidia-smi CLI.
type NvidiaSMI struct {
	log *slog.Logger
}

func NewNvidiaSMI(log *slog.Logger) *NvidiaSMI {
	if log == nil {
		log = slog.Default()
	}
	return &NvidiaSMI{log: log}
}

func (n *NvidiaSMI) Sample(ctx context.Context) Snapshot {
	snap := Snapshot{CollectedAt: time.Now().UTC()}

	sampleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(sampleCtx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,temperature.gpu",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		n.log.Warn("nvidia-smi unavailable", "error", err)
		return snap
	}

	// First GPU only; multi-GPU inference boxes report the serving
	// device first.
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Split(line, ", ")
	if len(fields) > 0 {
		snap.GPUUtilization = parseField(fields[0])
	}
	if len(fields) > 1 {
		snap.GPUMemoryUsedMiB = parseField(fields[1])
	}
	if len(fields) > 2 {
		snap.GPUTemperatureC = parseField(fields[2])
	}
	return snap
}

// parseField tolerates the "[N/A]" placeholders nvidia-smi emits for
// unsupported sensors.
func parseField(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
