package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base  *zap.Logger
	sugar *zap.SugaredLogger
)

// Init builds the process-wide logger for the given service.
// env "dev" selects the console encoder with colored levels; anything else logs JSON.
func Init(service, env, level string) {
	cfg := zap.NewProductionConfig()
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]any{"service": service}

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		panic("logger: build failed: " + err.Error())
	}

	base = l
	sugar = l.Sugar()

	sugar.Infow("logger.initialized", "env", env, "level", level)
}

// L returns the structured logger, initializing a dev logger on first use.
func L() *zap.Logger {
	if base == nil {
		Init("investec-adapter", "dev", "info")
	}
	return base
}

// S returns the sugared logger.
func S() *zap.SugaredLogger {
	if sugar == nil {
		Init("investec-adapter", "dev", "info")
	}
	return sugar
}

// Sync flushes buffered entries. Call it deferred from main.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
