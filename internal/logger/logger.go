// internal/logger/logger.go

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Mode int

const (
	MINIMAL Mode = iota
	NORMAL
	FULL
)

var levelMap = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
}

// Fields are structured key/value pairs attached to a log line.
type Fields map[string]interface{}

type Logger struct {
	level   Level
	mode    Mode
	mu      sync.Mutex
	console io.Writer
	logFile *os.File
	colors  bool
	fields  Fields
	zl      zerolog.Logger
}

type Config struct {
	Level       Level
	Mode        Mode
	LogFilePath string
	UseColors   bool
	// Output overrides stdout for console lines; used by tests.
	Output io.Writer
}

func New(cfg Config) (*Logger, error) {
	l := &Logger{
		level:   cfg.Level,
		mode:    cfg.Mode,
		console: cfg.Output,
		colors:  cfg.UseColors,
	}
	if l.console == nil {
		l.console = os.Stdout
	}

	if cfg.LogFilePath != "" {
		if err := l.setupLogFile(cfg.LogFilePath); err != nil {
			return nil, fmt.Errorf("failed to setup log file: %w", err)
		}
	}

	l.rebuild()
	return l, nil
}

func (l *Logger) setupLogFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	l.logFile = file
	return nil
}

// rebuild recreates the zerolog pipeline after a level or mode change.
// Caller holds l.mu or is the constructor.
func (l *Logger) rebuild() {
	cw := zerolog.ConsoleWriter{
		Out:        l.console,
		NoColor:    !l.colors,
		TimeFormat: "2006-01-02 15:04:05",
	}
	if l.mode == MINIMAL {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	var out io.Writer = cw
	if l.logFile != nil {
		// the file always gets JSON lines
		out = zerolog.MultiLevelWriter(cw, l.logFile)
	}

	zlLevel, ok := levelMap[l.level]
	if !ok {
		zlLevel = zerolog.Disabled
	}

	ctx := zerolog.New(out).Level(zlLevel).With().Timestamp()
	if l.mode == FULL {
		ctx = ctx.CallerWithSkipFrameCount(4)
	}
	for k, v := range l.fields {
		ctx = ctx.Interface(k, v)
	}
	l.zl = ctx.Logger()
}

func (l *Logger) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// WithFields returns a child logger that attaches fields to every line.
// The child shares the parent's outputs.
func (l *Logger) WithFields(fields Fields) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	child := &Logger{
		level:   l.level,
		mode:    l.mode,
		console: l.console,
		logFile: l.logFile,
		colors:  l.colors,
		fields:  merged,
	}
	child.rebuild()
	return child
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	if level < l.level {
		l.mu.Unlock()
		return
	}
	zl := l.zl
	l.mu.Unlock()

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	switch level {
	case DEBUG:
		zl.Debug().Msg(message)
	case INFO:
		zl.Info().Msg(message)
	case WARN:
		zl.Warn().Msg(message)
	case ERROR:
		zl.Error().Msg(message)
	case FATAL:
		// zerolog's Fatal exits the process after writing
		zl.Fatal().Msg(message)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.rebuild()
}

func (l *Logger) SetMode(mode Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	l.rebuild()
}

func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "info", "INFO":
		return INFO
	case "warn", "WARN", "warning", "WARNING":
		return WARN
	case "error", "ERROR":
		return ERROR
	case "fatal", "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func ParseMode(s string) Mode {
	switch s {
	case "minimal", "MINIMAL":
		return MINIMAL
	case "normal", "NORMAL":
		return NORMAL
	case "full", "FULL":
		return FULL
	default:
		return NORMAL
	}
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	l, _ := New(Config{Level: FATAL + 1, Output: io.Discard})
	return l
}

var defaultLogger *Logger

func init() {
	defaultLogger, _ = New(Config{
		Level:     INFO,
		Mode:      NORMAL,
		UseColors: true,
	})
}

func Default() *Logger {
	return defaultLogger
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatal(format, args...)
}

func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

func SetMode(mode Mode) {
	defaultLogger.SetMode(mode)
}

func Close() error {
	return defaultLogger.Close()
}
