// Package logger builds the logr.Logger used across the bridge: a zap console
// core on stderr whose level is adjustable at runtime.
package logger

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
	envLogLevel            = "BAZELBSP_LOG_LEVEL"
)

type Logger struct {
	logr.Logger
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New creates a logger writing human readable output to stderr.
// The initial level is info unless BAZELBSP_LOG_LEVEL says otherwise.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if v := os.Getenv(envLogLevel); v != "" {
		if parsed, err := ParseLevel(v); err == nil {
			level.SetLevel(parsed)
		} else {
			fmt.Fprintf(os.Stderr, "invalid %s value %q: %v\n", envLogLevel, v, err)
		}
	}

	zapLogger := zap.New(zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level))

	return &Logger{
		Logger:      zapr.NewLogger(zapLogger).WithName(name),
		atomicLevel: level,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Flush() {
	l.flush()
}

// AddLevelFlag registers -v/--verbosity on fs.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	fs.VarP(&levelFlag{l: l}, verbosityFlagName, verbosityFlagShortName,
		"Logging verbosity level (e.g. -v=debug). One of 'debug', 'info', 'error', or a positive integer for increasing debug verbosity.")
}

// ParseLevel accepts zap level names and positive integers; an integer N
// enables logr V(N) output.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return zapcore.InfoLevel, fmt.Errorf("verbosity must not be negative: %d", n)
		}
		return zapcore.Level(-n), nil
	}
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

type levelFlag struct {
	l     *Logger
	value string
}

func (f *levelFlag) String() string {
	if f.value == "" {
		return "info"
	}
	return f.value
}

func (f *levelFlag) Set(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	f.value = s
	f.l.SetLevel(level)
	return nil
}

func (f *levelFlag) Type() string {
	return "level"
}
