// Package logger provides the leveled logger shared by the connect library
// and the sample binaries.
//
// Loggers should be injected (and usually Named as well): e.g.
// lggr.Named("<component>"). The samples construct one logger at startup and
// hand it to every component; the library never logs through a global.
package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is the logging interface used throughout this module. It is a
// subset of go.uber.org/zap.SugaredLogger so callers may substitute a zap
// logger of their own.
//
// Levels
//   - Fatal: Logs and then calls os.Exit(1). Only the sample binaries use
//     this, for failures the original tooling treats as fatal (e.g. a
//     connection error).
//   - Error: Something failed and the operation did not complete.
//   - Warn: Something unexpected happened but the operation continued.
//   - Info: High level progress the user is expected to read.
//   - Debug: Passthrough logging from the client transport, enabled by the
//     samples' verbose flag.
type Logger interface {
	// Name returns the fully qualified name of the logger.
	Name() string

	// Named returns a logger with the given name segment appended.
	Named(name string) Logger

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
	// Fatal logs and then calls os.Exit(1).
	Fatal(args ...any)

	Debugf(format string, values ...any)
	Infof(format string, values ...any)
	Warnf(format string, values ...any)
	Errorf(format string, values ...any)
	Fatalf(format string, values ...any)

	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Fatalw(msg string, keysAndValues ...any)

	// Sync flushes any buffered log entries.
	Sync() error
}

// Config configures the level of a console Logger.
type Config struct {
	Level zapcore.Level
}

// New returns a console Logger at Info level.
func New() (Logger, error) {
	c := Config{Level: zapcore.InfoLevel}
	return c.New()
}

// NewVerbose returns a console Logger at Debug level. The samples use this
// for the -v/--verbose flag, which enables passthrough logging from the
// client transport.
func NewVerbose() (Logger, error) {
	c := Config{Level: zapcore.DebugLevel}
	return c.New()
}

// New returns a new Logger for Config. Output is a console encoder on
// stderr, which keeps the samples' stdout free for interactive prompts.
func (c *Config) New() (Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level.SetLevel(c.Level)
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	core, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &logger{core.Sugar()}, nil
}

// Test returns a new test Logger for tb.
func Test(tb testing.TB) Logger {
	tb.Helper()
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	lggr := zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg),
			zaptest.NewTestingWriter(tb),
			zapcore.DebugLevel,
		),
	)

	return &logger{lggr.Sugar()}
}

// TestObserved returns a new test Logger for tb and ObservedLogs at the
// given Level.
func TestObserved(tb testing.TB, lvl zapcore.Level) (Logger, *observer.ObservedLogs) {
	tb.Helper()
	oCore, logs := observer.New(lvl)
	observe := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, oCore)
	})
	sl := zaptest.NewLogger(tb, zaptest.WrapOptions(observe)).Sugar()

	return &logger{sl}, logs
}

// Nop returns a no-op Logger.
func Nop() Logger {
	return &logger{zap.New(zapcore.NewNopCore()).Sugar()}
}

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) Name() string {
	return l.Desugar().Name()
}

func (l *logger) Named(name string) Logger {
	return &logger{l.SugaredLogger.Named(name)}
}
