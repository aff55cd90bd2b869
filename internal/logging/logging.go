// Package logging builds the structured logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level string // debug, info, warn, error; empty means info
	// File switches to JSON output in a rotating file.
	File        string
	Development bool
	// Writer receives console output when File is empty. Defaults to stderr.
	Writer io.Writer

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var core zapcore.Core
	if opts.File != "" {
		w := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	} else {
		out := opts.Writer
		if out == nil {
			out = os.Stderr
		}
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.TimeKey = ""
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), level)
	}

	zopts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zopts = append(zopts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}
	return zap.New(core, zopts...), nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
