package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu         sync.RWMutex
	logger     *zap.Logger
	sugar      *zap.SugaredLogger
	loggerOnce sync.Once
	atomicLvl  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger installs a JSON logger on stderr at INFO until Configure is called.
func initLogger() {
	loggerOnce.Do(func() {
		l, err := build("json")
		if err != nil {
			l = zap.NewNop()
		}
		install(l)
	})
}

// Configure replaces the global logger. format is "json" (default) or "console";
// level is any zap level name ("debug", "info", "warn", "error").
func Configure(level, format string) error {
	loggerOnce.Do(func() {})

	if level != "" {
		if err := atomicLvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			atomicLvl.SetLevel(zapcore.InfoLevel)
		}
	}

	l, err := build(format)
	if err != nil {
		return err
	}
	install(l)
	return nil
}

func build(format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLvl
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = atomicLvl
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build(zap.AddCallerSkip(2))
}

func install(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
}

// Zap returns the underlying logger for integrations (HTTP middleware, etc.).
// The returned logger does not skip caller frames.
func Zap() *zap.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return logger.WithOptions(zap.AddCallerSkip(-2))
}

// Sync flushes buffered entries. Call before exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		_ = logger.Sync()
	}
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		atomicLvl.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		atomicLvl.SetLevel(zapcore.WarnLevel)
	case LevelError:
		atomicLvl.SetLevel(zapcore.ErrorLevel)
	default:
		atomicLvl.SetLevel(zapcore.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()

	mu.RLock()
	s := sugar
	mu.RUnlock()

	// Odd trailing key is dropped, zap would otherwise log it as "ignored".
	if len(kv)%2 != 0 {
		kv = kv[:len(kv)-1]
	}

	switch level {
	case LevelDebug:
		s.Debugw(msg, kv...)
	case LevelWarn:
		s.Warnw(msg, kv...)
	case LevelError:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}
