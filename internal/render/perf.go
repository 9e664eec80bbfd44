package render

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PerfSnapshot is one point-in-time perf reading (§4.7 Perf).
type PerfSnapshot struct {
	Timestamp  time.Time
	PerCorePct []float64
	MemUsedPct float64
	MemTotalMB uint64
}

// SnapshotPerf takes one perf snapshot of per-core CPU% (over a short
// sampling window) and system memory.
func SnapshotPerf() (PerfSnapshot, error) {
	pct, err := cpu.Percent(200*time.Millisecond, true)
	if err != nil {
		return PerfSnapshot{}, fmt.Errorf("render: perf: cpu: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return PerfSnapshot{}, fmt.Errorf("render: perf: mem: %w", err)
	}
	return PerfSnapshot{
		Timestamp:  time.Now(),
		PerCorePct: pct,
		MemUsedPct: vm.UsedPercent,
		MemTotalMB: vm.Total / (1024 * 1024),
	}, nil
}

// RunPerf takes one snapshot (oneShot) or repeats at interval until ctx is
// cancelled (§4.7: "Perf (one-shot or continuous)"), handing each snapshot
// to emit.
func RunPerf(ctx context.Context, logger *log.Logger, oneShot bool, interval time.Duration, emit func(PerfSnapshot)) {
	snap, err := SnapshotPerf()
	if err != nil {
		if logger != nil {
			logger.Warn("render: perf snapshot failed", "err", err)
		}
		return
	}
	emit(snap)
	if oneShot {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := SnapshotPerf()
			if err != nil {
				if logger != nil {
					logger.Warn("render: perf snapshot failed", "err", err)
				}
				continue
			}
			emit(snap)
		}
	}
}
