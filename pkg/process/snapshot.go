package process

import (
	"fmt"
	"runtime"
	"time"
)

// Snapshot is a short status of the current process for crash diagnostics
type Snapshot struct {
	HeapAlloc  uint64
	SysMemory  uint64
	PeakRSS    int64 // 0 when the platform does not report it
	CPUTime    time.Duration
	Uptime     time.Duration
	Goroutines int
}

func TakeSnapshot(identity Identity, now time.Time) Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cpu, peakRSS := cpuTime()

	return Snapshot{
		HeapAlloc:  mem.HeapAlloc,
		SysMemory:  mem.Sys,
		PeakRSS:    peakRSS,
		CPUTime:    cpu,
		Uptime:     identity.Uptime(now),
		Goroutines: runtime.NumGoroutine(),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("heap=%.1fMB sys=%.1fMB peak_rss=%.1fMB cpu=%s uptime=%s goroutines=%d",
		megabytes(int64(s.HeapAlloc)), megabytes(int64(s.SysMemory)), megabytes(s.PeakRSS),
		s.CPUTime.Round(time.Millisecond), s.Uptime.Round(time.Second), s.Goroutines)
}

func megabytes(b int64) float64 {
	return float64(b) / (1024 * 1024)
}
