// Package logging provides carctl's structured logging facility: console
// output plus an optional JSON log file, adapted from the teacher's
// internal/auditr/logger package.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.SugaredLogger

// Config holds logger construction parameters, read from pkg/config.
type Config struct {
	// Level is the minimum level logged anywhere: debug, info, warn, error.
	Level string
	// ConsoleLevel overrides Level for stderr output only.
	ConsoleLevel string
	// File, if set, receives JSON-encoded records at Level or above.
	File string
	// Development puts zap in development mode, where DPanic-level logs
	// panic instead of only logging.
	Development bool
}

// Init builds the global logger from cfg. Safe to call once at process
// startup; subsequent calls replace the previous logger.
func Init(cfg Config) error {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.ConsoleLevel == "" {
		cfg.ConsoleLevel = cfg.Level
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stderr),
		levelFromString(cfg.ConsoleLevel),
	))

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.Lock(f),
			levelFromString(cfg.Level),
		))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	logger = zap.New(zapcore.NewTee(cores...), opts...).Sugar()
	return nil
}

// L returns the global logger, initializing a console-only default logger
// on first use if Init was never called.
func L() *zap.SugaredLogger {
	if logger == nil {
		_ = Init(Config{Level: "info", Development: true})
	}
	return logger
}

func levelFromString(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
