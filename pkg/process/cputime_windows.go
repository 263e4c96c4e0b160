//go:build windows

package process

import (
	"time"

	"golang.org/x/sys/windows"
)

func cpuTime() (time.Duration, int64) {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(windows.CurrentProcess(), &creation, &exit, &kernel, &user); err != nil {
		return 0, 0
	}
	// Filetime counts 100ns ticks
	ticks := func(ft windows.Filetime) int64 {
		return int64(ft.HighDateTime)<<32 | int64(ft.LowDateTime)
	}
	return time.Duration((ticks(kernel) + ticks(user)) * 100), 0
}
