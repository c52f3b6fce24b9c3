// Package logging provides pre-configured, component-scoped loggers for the
// kilocode sync daemon. Loggers are cached per component so repeated lookups
// return the same entry.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	base    *logrus.Logger
	loggers = make(map[string]*logrus.Entry)
)

func baseLogger() *logrus.Logger {
	if base != nil {
		return base
	}

	l := logrus.New()
	l.SetOutput(os.Stderr)

	levelStr := os.Getenv("KILOCODE_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch os.Getenv("KILOCODE_LOG_FORMAT") {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	base = l
	return base
}

// Logger returns the logger for the given component.
func Logger(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if entry, ok := loggers[component]; ok {
		return entry
	}

	entry := baseLogger().WithField("component", component)
	loggers[component] = entry
	return entry
}

// SetLevel overrides the log level for all components. Used by the CLI
// --verbose flag.
func SetLevel(level logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger().SetLevel(level)
}
