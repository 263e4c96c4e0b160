package handoff

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
)

// TransportType defines the local transport of the handoff channel
type TransportType string

const (
	TransportAuto TransportType = "auto"
	TransportUDS  TransportType = "uds"
	TransportTCP  TransportType = "tcp"
)

const loopbackAnyPort = "127.0.0.1:0"

type TransportConfig struct {
	// Transport type (auto, uds, tcp)
	TransportType TransportType `yaml:"type"`

	// Unix domain socket path
	SocketPath string `yaml:"socket_path,omitempty"`

	// TCP address (host:port), loopback only
	TCPAddress string `yaml:"tcp_address,omitempty"`

	// Unix socket file permissions
	FileMode os.FileMode `yaml:"file_mode,omitempty"`
}

// ResolveTransportType maps auto to the platform default
func ResolveTransportType(transportType TransportType) TransportType {
	if transportType != "" && transportType != TransportAuto {
		return transportType
	}
	if runtime.GOOS == "windows" {
		// Named pipes would need go-winio; loopback TCP is used instead
		return TransportTCP
	}
	return TransportUDS
}

func CreateListener(config TransportConfig) (net.Listener, error) {
	switch ResolveTransportType(config.TransportType) {
	case TransportUDS:
		return createUDSListener(config)
	case TransportTCP:
		return createTCPListener(config)
	default:
		return nil, errors.NewValidationError("invalid transport type", nil).
			WithContext("transport_type", config.TransportType)
	}
}

func createUDSListener(config TransportConfig) (net.Listener, error) {
	if runtime.GOOS == "windows" {
		return nil, errors.NewValidationError("Unix domain sockets are not supported on Windows, use tcp instead", nil)
	}
	if config.SocketPath == "" {
		return nil, errors.NewValidationError("socket path is required", nil)
	}

	// A socket left behind by a dead owner; we hold the instance lock, so it is ours to remove
	if err := os.Remove(config.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.NewIOError("failed to remove existing socket file", err).
			WithContext("path", config.SocketPath)
	}

	if err := os.MkdirAll(filepath.Dir(config.SocketPath), 0755); err != nil {
		return nil, errors.NewIOError("failed to create socket directory", err).
			WithContext("path", config.SocketPath)
	}

	listener, err := net.Listen("unix", config.SocketPath)
	if err != nil {
		return nil, errors.NewNetworkError("failed to create Unix domain socket listener", err).
			WithContext("path", config.SocketPath)
	}

	fileMode := config.FileMode
	if fileMode == 0 {
		fileMode = 0600 // Owner only
	}
	if err := os.Chmod(config.SocketPath, fileMode); err != nil {
		listener.Close()
		return nil, errors.NewPermissionError("failed to set socket file permissions", err).
			WithContext("path", config.SocketPath)
	}

	return listener, nil
}

func createTCPListener(config TransportConfig) (net.Listener, error) {
	address := config.TCPAddress
	if address == "" {
		address = loopbackAnyPort
	}

	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, errors.NewValidationError("invalid TCP address", err).WithContext("address", address)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, errors.NewValidationError("handoff listener must be bound to loopback", nil).
			WithContext("address", address)
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.NewNetworkError("failed to create TCP listener", err).WithContext("address", address)
	}
	return listener, nil
}

// GetListenerAddress returns a URL form of the listener address
func GetListenerAddress(listener net.Listener) string {
	addr := listener.Addr()
	switch addr.Network() {
	case "tcp":
		return fmt.Sprintf("tcp://%s", addr.String())
	case "unix":
		return fmt.Sprintf("unix://%s", addr.String())
	default:
		return addr.String()
	}
}

func newHTTPTransport(config TransportConfig) (*http.Transport, error) {
	switch ResolveTransportType(config.TransportType) {
	case TransportUDS:
		socketPath := config.SocketPath
		if socketPath == "" {
			return nil, errors.NewValidationError("socket path is required", nil)
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
			DisableKeepAlives: true,
		}, nil

	case TransportTCP:
		address := config.TCPAddress
		if address == "" {
			return nil, errors.NewValidationError("TCP address is required", nil)
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "tcp", address)
			},
			DisableKeepAlives: true,
		}, nil

	default:
		return nil, errors.NewValidationError("unsupported transport type", nil).
			WithContext("transport_type", config.TransportType)
	}
}
