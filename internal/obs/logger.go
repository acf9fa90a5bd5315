// Copyright 2025 James Ross
package obs

import (
    "os"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

func parseLevel(level string) zapcore.Level {
    switch strings.ToLower(level) {
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

// NewLogger builds a JSON zap logger writing to stderr.
func NewLogger(level string) (*zap.Logger, error) {
    cfg := zap.NewProductionConfig()
    cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
    cfg.Encoding = "json"
    return cfg.Build()
}

// NewRotatingLogger builds a JSON zap logger that writes through a
// lumberjack-managed rotating file in addition to stderr, for long-running
// worker processes where an operator expects bounded on-disk log growth.
func NewRotatingLogger(level, path string) *zap.Logger {
    encoderCfg := zap.NewProductionEncoderConfig()
    encoderCfg.TimeKey = "ts"
    encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

    rotator := &lumberjack.Logger{
        Filename:   path,
        MaxSize:    100,
        MaxBackups: 5,
        MaxAge:     28,
        Compress:   true,
    }

    core := zapcore.NewTee(
        zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), parseLevel(level)),
        zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), parseLevel(level)),
    )
    return zap.New(core)
}

// Convenience typed fields
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
