// Package logging configures the standard logger and gates debug output.
package logging

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// Level orders log verbosity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// Configure sets the standard logger's flags and the active level.
func Configure(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	current.Store(int32(lvl))
	flags := log.LstdFlags | log.LUTC
	if lvl == LevelDebug {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)
	return nil
}

// Enabled reports whether messages at lvl are written.
func Enabled(lvl Level) bool {
	return Level(current.Load()) <= lvl
}

// Debugf logs only when the level is debug.
func Debugf(format string, args ...any) {
	if Enabled(LevelDebug) {
		log.Output(2, fmt.Sprintf(format, args...))
	}
}

// Warnf logs unless the level is error.
func Warnf(format string, args ...any) {
	if Enabled(LevelWarn) {
		log.Output(2, fmt.Sprintf(format, args...))
	}
}
