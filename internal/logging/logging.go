package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger instance for the application
var Logger *zap.SugaredLogger

var level = zap.NewAtomicLevelAt(zap.InfoLevel)

func init() {
	Logger = newProductionLogger()
}

// newProductionLogger builds the JSON logger. Callers are reported past the
// package helpers below.
func newProductionLogger(opts ...zap.Option) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	logger, err := cfg.Build(append([]zap.Option{zap.AddCallerSkip(1)}, opts...)...)
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// SetLevel changes the level of the global logger. Unknown levels are
// ignored.
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		Logger.Warnf("Unknown log level %q, keeping %s", name, level.Level())
		return
	}
	level.SetLevel(l)
}

// UseConsole switches the global logger to a human readable console encoder
// on stdout and returns it.
func UseConsole() *zap.SugaredLogger {
	Logger = zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
				TimeKey:      "ts",
				LevelKey:     "lvl",
				MessageKey:   "message",
				CallerKey:    "caller",
				EncodeLevel:  zapcore.CapitalColorLevelEncoder,
				EncodeTime:   zapcore.RFC3339TimeEncoder,
				EncodeCaller: zapcore.ShortCallerEncoder,
			}),
			zapcore.AddSync(os.Stdout),
			level,
		),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Sugar()
	return Logger
}

// Sync flushes buffered log entries.
func Sync() { _ = Logger.Sync() }

// Top-level helpers for package alias usage
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Fatalf(format string, args ...interface{}) { Logger.Fatalf(format, args...) }
