// Package logger constructs the application wide zap logger.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared production logger with the service name attached
// to every entry.
func New(service string) *zap.SugaredLogger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]any{"service": service}
	config.DisableStacktrace = true

	log, err := config.Build(zap.WithCaller(true))
	if err != nil {
		os.Exit(1)
	}

	return log.Sugar()
}
