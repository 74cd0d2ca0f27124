package policy

import (
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// LoadMonitor samples CPU utilization and tracks in-flight evaluations so
// the coordinator can shed load by degrading to ignore-only evaluation.
type LoadMonitor struct {
	cpuThreshold      float64
	inflightThreshold int

	cpuPercent atomic.Uint64 // utilization * 100, stored as integer
	inflight   atomic.Int64
	stop       chan struct{}
}

// NewLoadMonitor creates and starts a monitor sampling CPU every interval.
func NewLoadMonitor(cpuThreshold float64, inflightThreshold int, interval time.Duration) *LoadMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	m := &LoadMonitor{
		cpuThreshold:      cpuThreshold,
		inflightThreshold: inflightThreshold,
		stop:              make(chan struct{}),
	}
	go m.sample(interval)
	return m
}

func (m *LoadMonitor) sample(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			percents, err := cpu.Percent(0, false)
			if err != nil || len(percents) == 0 {
				continue
			}
			m.cpuPercent.Store(uint64(percents[0] * 100))
		}
	}
}

// Enter marks an evaluation in flight.
func (m *LoadMonitor) Enter() { m.inflight.Add(1) }

// Exit marks an evaluation complete.
func (m *LoadMonitor) Exit() { m.inflight.Add(-1) }

// Inflight returns the number of evaluations currently in flight.
func (m *LoadMonitor) Inflight() int64 { return m.inflight.Load() }

// ShouldShed reports whether sustained load warrants ignore-only
// evaluation.
func (m *LoadMonitor) ShouldShed() bool {
	if m.inflightThreshold > 0 && m.inflight.Load() > int64(m.inflightThreshold) {
		return true
	}
	cpuNow := float64(m.cpuPercent.Load()) / 100
	return m.cpuThreshold > 0 && cpuNow > m.cpuThreshold
}

// Stop halts the sampling goroutine.
func (m *LoadMonitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}
