package zaplogging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-guardian-go/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level string // debug, info, warn, error
	// FilePath, when set, tees every entry into an append-only file
	FilePath string
	// Console disables stderr output when false and FilePath is set
	Console bool
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewSugaredLogger builds the zap backend. The returned cleanup syncs and
// closes the file sink.
func NewSugaredLogger(options Options) (*zap.SugaredLogger, func(), error) {
	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core
	var file *os.File

	if options.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(options.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(options.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), level))
	}
	if options.Console || file == nil {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	zl := zap.New(zapcore.NewTee(cores...))
	sugared := zl.Sugar()

	cleanup := func() {
		_ = zl.Sync()
		if file != nil {
			_ = file.Close()
		}
	}
	return sugared, cleanup, nil
}

// NewLogger wires a zap backend into logging.Logger with the given prefix
func NewLogger(prefix string, options Options) (logging.Logger, func(), error) {
	sugared, cleanup, err := NewSugaredLogger(options)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewLogger(prefix, logging.LogFuncs{
		Debugf: sugared.Debugf,
		Infof:  sugared.Infof,
		Warnf:  sugared.Warnf,
		Errorf: sugared.Errorf,
	}), cleanup, nil
}
