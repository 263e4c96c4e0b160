package handoff

import (
	"fmt"
	"net"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"
)

// Endpoint locates the handoff channel of the owner of one launch mode.
// Socket paths are deterministic; a TCP port is published through a port
// file next to the instance lock.
type Endpoint struct {
	Mode          string
	TransportType TransportType
	Files         *processfile.ProcessFileManager
}

func NewEndpoint(files *processfile.ProcessFileManager, mode string, transportType TransportType) Endpoint {
	return Endpoint{
		Mode:          mode,
		TransportType: ResolveTransportType(transportType),
		Files:         files,
	}
}

func (e Endpoint) portFileID() string {
	return "handoff-" + e.Mode
}

// ListenConfig is the transport the owner listens on
func (e Endpoint) ListenConfig() TransportConfig {
	if e.TransportType == TransportUDS {
		return TransportConfig{
			TransportType: TransportUDS,
			SocketPath:    e.Files.GenerateHandoffSocketPath(e.Mode),
		}
	}
	return TransportConfig{
		TransportType: TransportTCP,
		TCPAddress:    loopbackAnyPort,
	}
}

// Publish makes the listener discoverable by later launches
func (e Endpoint) Publish(listener net.Listener) error {
	if e.TransportType != TransportTCP {
		return nil
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return errors.NewInternalError("listener is not a TCP listener", nil)
	}
	return e.Files.WritePortFile(e.portFileID(), tcpAddr.Port)
}

func (e Endpoint) Unpublish() {
	if e.TransportType == TransportTCP {
		e.Files.RemovePortFile(e.portFileID())
	}
}

// DialConfig is the transport a yielding launch connects to
func (e Endpoint) DialConfig() (TransportConfig, error) {
	if e.TransportType == TransportUDS {
		return e.ListenConfig(), nil
	}
	port, err := e.Files.ReadPortFile(e.portFileID())
	if err != nil {
		return TransportConfig{}, errors.NewNotFoundError("handoff endpoint is not published", err).
			WithContext("mode", e.Mode)
	}
	return TransportConfig{
		TransportType: TransportTCP,
		TCPAddress:    fmt.Sprintf("127.0.0.1:%d", port),
	}, nil
}
