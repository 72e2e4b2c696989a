// Package vlog provides the leveled logger shared by every node component.
// Lines are tagged with the owning node's address; debug lines are printed
// only when the node runs in verbose mode.
package vlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

const (
	infoColor  = "%s"
	errorColor = "\033[1;31m%s\033[0m" // red
	greyColor  = "\033[90m%s\033[0m"   // clock events
)

type level struct {
	prefix string
	color  string
}

var (
	levelDebug = level{prefix: "debug", color: infoColor}
	levelClock = level{prefix: "debug", color: greyColor}
	levelInfo  = level{prefix: "info", color: infoColor}
	levelError = level{prefix: "ERROR", color: errorColor}
)

// Logger writes timestamped lines of the form "15:04:05.000 debug addr: msg".
// Safe for concurrent use.
type Logger struct {
	out     *log.Logger
	name    atomic.Value // string
	verbose atomic.Bool
	color   bool
}

// New creates a logger writing to stderr.
func New(name string, verbose bool) *Logger {
	return NewWithWriter(os.Stderr, name, verbose)
}

// NewWithWriter creates a logger writing to w. Colors are disabled unless w is stderr.
func NewWithWriter(w io.Writer, name string, verbose bool) *Logger {
	l := &Logger{
		out:   log.New(w, "", log.Ltime|log.Lmicroseconds),
		color: w == os.Stderr,
	}
	l.name.Store(name)
	l.verbose.Store(verbose)
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "", false)
}

// SetName changes the address tag printed on every line.
func (l *Logger) SetName(name string) {
	l.name.Store(name)
}

// SetVerbose toggles debug output.
func (l *Logger) SetVerbose(v bool) {
	l.verbose.Store(v)
}

// Verbose reports whether debug output is enabled.
func (l *Logger) Verbose() bool {
	return l.verbose.Load()
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.verbose.Load() {
		return
	}
	l.print(levelDebug, format, args...)
}

// Clockf logs a logical clock event. It is a debug line rendered in grey.
func (l *Logger) Clockf(format string, args ...interface{}) {
	if !l.verbose.Load() {
		return
	}
	l.print(levelClock, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.print(levelInfo, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.print(levelError, format, args...)
}

func (l *Logger) print(lv level, format string, args ...interface{}) {
	name, _ := l.name.Load().(string)
	str := fmt.Sprintf("%s %s: %s", lv.prefix, name, fmt.Sprintf(format, args...))
	if l.color {
		str = fmt.Sprintf(lv.color, str)
	}
	l.out.Print(str)
}
