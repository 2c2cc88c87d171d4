// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/kozaktomas/face-id/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

var (
	logger = newDefaultLogger()
	mu     sync.RWMutex
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(newFormatter())
	return l
}

func newFormatter() logrus.Formatter {
	return &formatter.Formatter{
		TimestampFormat: "2006-01-02 15:04:05",
		HideKeys:        false,
		FieldsOrder:     []string{"component", "flow", "state"},
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
		},
	}
}

// Setup replaces the process logger according to cfg. It is safe to call more than once.
func Setup(cfg config.LogConfig) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter())
	l.SetReportCaller(level >= logrus.DebugLevel)

	writers := []io.Writer{os.Stderr}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    50, // megabytes
			MaxAge:     14,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	SetLogger(l)
	return l, nil
}

// SetLogger installs l as the process logger. Tests use it to capture output.
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns an entry tagged with the emitting package.
func Component(name string) *logrus.Entry {
	return Logger().WithField("component", name)
}
