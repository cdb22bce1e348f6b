package daemon

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file limits
const (
	maxLogSizeMB  = 5
	maxLogBackups = 3
	maxLogAgeDays = 30
)

// Logger is the service logger: a rotating JSON file, plus the console
// when running interactively. Verbosity can be switched at runtime.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
	file  *lumberjack.Logger
}

// NewLogger opens the log file at path, creating its directory.
func NewLogger(path string, verbose, console bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), level),
	}
	if console {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.Lock(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{Logger: logger, level: level, file: file}, nil
}

// SetVerbose changes the verbosity level at runtime
func (l *Logger) SetVerbose(v bool) {
	if v {
		l.level.SetLevel(zapcore.DebugLevel)
	} else {
		l.level.SetLevel(zapcore.InfoLevel)
	}
	l.Info("log verbosity changed", zap.Bool("verbose", v))
}

// Verbose returns current verbosity level
func (l *Logger) Verbose() bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

// Level exposes the atomic level; it serves GET/PUT as an http.Handler.
func (l *Logger) Level() zap.AtomicLevel {
	return l.level
}

// FileSize returns current log file size
func (l *Logger) FileSize() int64 {
	info, err := os.Stat(l.file.Filename)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Rotate starts a new log file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	return l.file.Rotate()
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	_ = l.Sync()
	return l.file.Close()
}
