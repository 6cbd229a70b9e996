// Package logging wraps zap with the structured console format
// the rest of the core logs through. No component reaches for the stdlib
// log package directly.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the process-wide logger. Init must be called once at startup
// before any component logs.
var L *zap.Logger

// Init configures the global logger at the given level (debug, info,
// warn, error).
func Init(level string) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     "\n",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	writer := zapcore.AddSync(os.Stdout)
	core := zapcore.NewCore(encoder, writer, levelFromString(level))
	L = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func levelFromString(level string) zapcore.LevelEnabler {
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

func logger() *zap.Logger {
	if L == nil {
		Init("info")
	}
	return L
}

func Info(msg string, fields ...zap.Field)  { logger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { logger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { logger().Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { logger().Debug(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { logger().Fatal(msg, fields...) }
