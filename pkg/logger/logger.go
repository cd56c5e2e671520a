// Package logger wires zap to stdout plus a size/time rotated JSON file.
package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unraid-agent/pkg/config"
)

var (
	baseLogger *zap.Logger
	initOnce   sync.Once
)

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init builds the process-wide logger: console output on stdout and JSON
// output to a rotating file under cfg.Path. Safe to call once.
func Init(cfg config.LogConfig) error {
	var err error
	initOnce.Do(func() {
		level := parseLevel(cfg.Level)

		if err = os.MkdirAll(cfg.Path, 0o755); err != nil {
			return
		}

		writer, wErr := rotatelogs.New(
			filepath.Join(cfg.Path, "unraid-agent-%Y%m%d.log"),
			rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithRotationSize(int64(cfg.MaxSize)*1024*1024),
		)
		if wErr != nil {
			err = wErr
			return
		}

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000 -07:00")
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		jsonEncoder := zapcore.NewJSONEncoder(encCfg)

		var consoleEncoder zapcore.Encoder
		if cfg.Format == "console" {
			devCfg := zap.NewDevelopmentEncoderConfig()
			devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
			devCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
			consoleEncoder = zapcore.NewConsoleEncoder(devCfg)
		} else {
			consoleEncoder = jsonEncoder
		}

		core := zapcore.NewTee(
			zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(writer), level),
		)

		baseLogger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	})
	return err
}

// L returns the process logger; Init must have been called.
func L() *zap.Logger {
	if baseLogger == nil {
		panic("logger not initialized: call logger.Init() first")
	}
	return baseLogger
}

// Named returns a child logger for one component, e.g. Named("array").
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() error {
	if baseLogger == nil {
		return nil
	}
	return baseLogger.Sync()
}
