// Package observability builds the process logger and the scoped loggers
// handed to each connection.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/colony/internal/config"
)

// Field keys shared by every component that logs about a connection.
const (
	FieldSessionID  = "session_id"
	FieldRemoteAddr = "remote_addr"
	FieldUsername   = "username"
	FieldCommand    = "command"
)

// NewLogger creates a structured logger from the given logging configuration,
// named after the server instance.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, serverName string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if serverName != "" {
		zapCfg.InitialFields = map[string]any{"server": serverName}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// SessionLogger scopes base to one accepted connection.
func SessionLogger(base *zap.Logger, sessionID, remoteAddr string) *zap.Logger {
	return base.With(
		zap.String(FieldSessionID, sessionID),
		zap.String(FieldRemoteAddr, remoteAddr),
	)
}
