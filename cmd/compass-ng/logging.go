package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"compass-ng/internal/config"
)

// newLogger writes to stderr (console format under debug, JSON otherwise),
// to the in-memory buffer behind /api/logs, and, when configured, to a
// rotating file.
func newLogger(debug bool, lc config.LogConfig, buffer zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level.SetLevel(zap.DebugLevel)
	}

	jsonEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	stderrEnc := jsonEnc
	if debug {
		stderrEnc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stderrEnc, zapcore.Lock(os.Stderr), level),
	}
	if buffer != nil {
		cores = append(cores, zapcore.NewCore(jsonEnc.Clone(), buffer, level))
	}
	if lc.File != "" {
		cores = append(cores, zapcore.NewCore(jsonEnc.Clone(), zapcore.AddSync(&lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			Compress:   true,
		}), level))
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if debug {
		opts = append(opts, zap.AddCaller(), zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...)
}
