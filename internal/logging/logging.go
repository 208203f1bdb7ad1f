// Package logging provides the standardized, component-tagged logging
// used by the runtime, sidecar, and gateway binaries.
package logging

import (
	"log"
	"os"
)

// Level is a coarse log-level gate, matching ASYA_LOG_LEVEL's values.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger tags every line with a component name, e.g. "runtime" or
// "sidecar[order-actor]".
type Logger struct {
	component string
	level     Level
}

func New(component string, level Level) *Logger {
	return &Logger{component: component, level: level}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level <= LevelDebug {
		log.Printf(l.component+" [DEBUG]: "+format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.level <= LevelInfo {
		log.Printf(l.component+": "+format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level <= LevelWarn {
		log.Printf(l.component+" [WARN]: "+format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	log.Printf(l.component+" [ERROR]: "+format, args...)
}

// Fatal logs and exits, matching the runtime's fail-fast startup checks.
func (l *Logger) Fatal(format string, args ...interface{}) {
	log.Printf(l.component+" [FATAL]: "+format, args...)
	os.Exit(1)
}
