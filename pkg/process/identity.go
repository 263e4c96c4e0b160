package process

import (
	"os"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
)

// Identity names one running process of the application. It never changes
// during the lifetime of the process.
type Identity struct {
	PID            int       `yaml:"pid"`
	ExecutablePath string    `yaml:"executable_path"`
	LaunchedAt     time.Time `yaml:"launched_at"`
}

// CurrentIdentity describes the calling process, launched at launchedAt
func CurrentIdentity(launchedAt time.Time) (Identity, error) {
	executable, err := os.Executable()
	if err != nil {
		return Identity{}, errors.NewProcessError("failed to resolve executable path", err)
	}
	return Identity{
		PID:            os.Getpid(),
		ExecutablePath: executable,
		LaunchedAt:     launchedAt,
	}, nil
}

func (id Identity) Uptime(now time.Time) time.Duration {
	if id.LaunchedAt.IsZero() {
		return 0
	}
	return now.Sub(id.LaunchedAt)
}
