// Package rglog is a minimal per-package leveled logger, modeled directly
// on the teacher's capnslog.PackageLogger: one logger instance per
// package, a shared global level/writer, and one formatted method per
// level (Criticalf through Tracef, e.g. Errorf, Debugf) in the style of
// capnslog's level-named methods.
package rglog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level is the severity of a log entry, ordered the same way as
// capnslog.LogLevel (higher is more verbose).
type Level int8

const (
	Critical Level = iota - 1
	Error
	Warning
	Notice
	Info
	Debug
	Trace
)

func (l Level) String() string {
	switch l {
	case Critical:
		return "CRITICAL"
	case Error:
		return "ERROR"
	case Warning:
		return "WARNING"
	case Notice:
		return "NOTICE"
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	case Trace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

var global = struct {
	mu     sync.Mutex
	level  Level
	out    io.Writer
}{level: Notice, out: os.Stderr}

// SetLevel sets the global reporting level; entries logged below it are
// discarded without formatting.
func SetLevel(l Level) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.level = l
}

// SetOutput redirects where formatted entries are written.
func SetOutput(w io.Writer) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.out = w
}

// Logger is a per-package logger handle, obtained once via New and held
// as a package-level var, the same way capnslog callers hold a
// packageLogger.
type Logger struct {
	pkg string
}

// New returns a Logger tagging every entry with pkg (conventionally the
// short package name, e.g. "parallelreader").
func New(pkg string) *Logger {
	return &Logger{pkg: pkg}
}

func (l *Logger) log(level Level, s string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if level > global.level {
		return
	}
	fmt.Fprintf(global.out, "%s %s: %s\n", level, l.pkg, s)
}

func (l *Logger) Criticalf(format string, args ...interface{}) { l.log(Critical, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.log(Error, fmt.Sprintf(format, args...)) }
func (l *Logger) Warningf(format string, args ...interface{})  { l.log(Warning, fmt.Sprintf(format, args...)) }
func (l *Logger) Noticef(format string, args ...interface{})   { l.log(Notice, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})     { l.log(Info, fmt.Sprintf(format, args...)) }
func (l *Logger) Debugf(format string, args ...interface{})    { l.log(Debug, fmt.Sprintf(format, args...)) }
func (l *Logger) Tracef(format string, args ...interface{})    { l.log(Trace, fmt.Sprintf(format, args...)) }
