package utils

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides different logging levels
type Logger struct {
	debug   bool
	verbose bool
	sugar   *zap.SugaredLogger
	closer  io.Closer // Rotating log file, if any
}

// NewLogger creates a new logger with the specified levels
func NewLogger(debug, verbose bool) *Logger {
	core := zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stdout), levelFor(debug, verbose))
	return &Logger{
		debug:   debug,
		verbose: verbose,
		sugar:   zap.New(core).Sugar(),
	}
}

// NewLoggerWithFile creates a new logger that writes to the console and to a rotating file
func NewLoggerWithFile(debug, verbose bool, logFilePath string) (*Logger, error) {
	// Ensure directory for the specific log file exists (handles nested paths)
	if err := EnsureDirForFile(logFilePath); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", logFilePath, err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}

	level := levelFor(debug, verbose)
	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(fileEncoder(), zapcore.AddSync(fileWriter), level),
	)

	return &Logger{
		debug:   debug,
		verbose: verbose,
		sugar:   zap.New(core).Sugar(),
		closer:  fileWriter,
	}, nil
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func levelFor(debug, verbose bool) zapcore.Level {
	if debug || verbose {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func consoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.CallerKey = ""
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func fileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// With returns a child logger that attaches key=value to every entry
func (l *Logger) With(key string, value interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		debug:   l.debug,
		verbose: l.verbose,
		sugar:   l.sugar.With(key, value),
		closer:  l.closer,
	}
}

// Info logs informational messages (always shown)
func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs warnings (always shown)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Debug logs debug messages (only if debug enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || !l.debug {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Verbose logs verbose messages (only if verbose enabled)
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.sugar.With("detail", "verbose").Debugf(format, args...)
}

// Error logs error messages (always shown)
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Close flushes buffered entries and closes the log file, if any
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.sugar.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
