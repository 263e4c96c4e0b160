//go:build !windows

package process

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

func cpuTime() (time.Duration, int64) {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return 0, 0
	}
	total := time.Duration(usage.Utime.Nano() + usage.Stime.Nano())

	peakRSS := int64(usage.Maxrss)
	if runtime.GOOS != "darwin" {
		// Linux and the BSDs report kilobytes
		peakRSS *= 1024
	}
	return total, peakRSS
}
