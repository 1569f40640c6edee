// Package logging builds the engine's zap loggers.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the encoder and sinks. Environment "dev" logs to the
// console at debug; anything else logs JSON at info.
type Config struct {
	Environment string     `yaml:"environment"`
	Level       string     `yaml:"level"`
	File        FileConfig `yaml:"file"`
}

// FileConfig adds a rotated file sink when Path is set.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

func NewDefaultConfig() Config {
	return Config{Environment: "dev"}
}

func devEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		CallerKey:      "C",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		LevelKey:       "L",
		LineEnding:     "\n",
		MessageKey:     "M",
		NameKey:        "N",
		TimeKey:        "T",
	}
}

func prodEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		LevelKey:       "level",
		LineEnding:     "\n",
		MessageKey:     "message",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		TimeKey:        "@timestamp",
	}
}

// New returns a logger and the atomic level backing it.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	var (
		encoder zapcore.Encoder
		level   zapcore.Level
		opts    []zap.Option
	)
	if cfg.Environment == "dev" {
		encoder = zapcore.NewConsoleEncoder(devEncoderConfig())
		level = zapcore.DebugLevel
		opts = append(opts, zap.Development(), zap.AddCaller())
	} else {
		encoder = zapcore.NewJSONEncoder(prodEncoderConfig())
		level = zapcore.InfoLevel
	}
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("logging: %w", err)
		}
		level = l
	}
	atom := zap.NewAtomicLevelAt(level)

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atom)}
	if cfg.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxAge:     cfg.File.MaxAgeDays,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}
		// The file always gets JSON so it can be shipped as is.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(prodEncoderConfig()), zapcore.AddSync(lj), atom))
	}
	return zap.New(zapcore.NewTee(cores...), opts...), atom, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
