// Package logging constructs the process-wide zap logger. Every long-lived
// service is handed a *zap.Logger by reference at construction time rather
// than reaching for a package-level singleton, following the teacher's
// "no hidden singletons beyond what the OS imposes" guidance.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls the constructed logger's verbosity and format.
type Options struct {
	Debug bool
	JSON  bool
}

// New builds a *zap.Logger for the launcher daemon. In debug mode it uses
// a human-readable console encoder unless opts.JSON is set; otherwise
// JSON, suitable for capture by a supervising process.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	if opts.Debug && !opts.JSON {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller()), nil
}

// ForInstallation returns a child logger scoped to one installation, the
// structured equivalent of the teacher's "[Docker] <msg>" bracket tags.
func ForInstallation(base *zap.Logger, installationID string) *zap.Logger {
	return base.With(zap.String("installationId", installationID))
}
