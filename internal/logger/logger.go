package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	// Level is a logrus level name; empty falls back to LOG_LEVEL, then "info".
	Level string
	// Format is "text" (default) or "json".
	Format string
	// File, when set, receives a rotated copy of every log line.
	File string
	// Output overrides stderr (used in tests).
	Output io.Writer
}

// New builds a logrus logger from opts.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	levelStr := opts.Level
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	if levelStr == "" {
		levelStr = "info"
	}
	if lvl, err := logrus.ParseLevel(strings.ToLower(levelStr)); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	switch strings.ToLower(opts.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "15:04:05",
			CallerPrettyfier: callerPrettyfier,
		})
	}
	if log.IsLevelEnabled(logrus.DebugLevel) {
		log.SetReportCaller(true)
	}

	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	if opts.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     30,
		})
	}
	log.SetOutput(out)
	return log
}

// Discard returns a logger that drops everything; handy for library defaults and tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// WithComponent tags entries with the emitting pipeline component.
func WithComponent(log logrus.FieldLogger, component string) *logrus.Entry {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", component)
}
