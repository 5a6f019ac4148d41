// Package logging builds the process logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultConfig is a JSON production config with ISO8601 timestamps.
func DefaultConfig() zap.Config {
	logConf := zap.NewProductionConfig()
	logConf.Sampling = nil
	logConf.EncoderConfig.TimeKey = "time"
	logConf.EncoderConfig.LevelKey = "severity"
	logConf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	return logConf
}

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(l string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", l)
}

// New builds a logger at the named level. Development loggers write
// colored console output instead of JSON.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	conf := DefaultConfig()
	if development {
		conf = zap.NewDevelopmentConfig()
		conf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	conf.Level = zap.NewAtomicLevelAt(lvl)
	return conf.Build()
}
