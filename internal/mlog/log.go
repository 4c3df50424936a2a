// Package mlog supplies the pluggable logger used by the allocator's
// error-handling disposition (double-free, purge failure, commit
// failure, ...). Applications can inject their own Logger; absent one,
// a default logger writes leveled, timestamped lines to os.Stderr.
package mlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Logger is the interface the allocator calls through to report
// recoverable conditions. Implementations must be safe for concurrent
// use: the fast paths never log, but the generic routine and the arena
// purge/abandon scanners may call from any thread.
type Logger interface {
	SetLogLevel(string)
	Fatalf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Verbosef(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Tracef(format string, v ...interface{})
}

type level int

const (
	levelIgnore level = iota + 1
	levelFatal
	levelError
	levelWarn
	levelInfo
	levelVerbose
	levelDebug
	levelTrace
)

var log Logger = newDefault(levelWarn, os.Stderr)

// Set installs logger as the allocator-wide logger. Passing nil resets
// the default logger at the given level (e.g. "warn", "debug").
func Set(logger Logger, defaultLevel string) Logger {
	if logger != nil {
		log = logger
		return log
	}
	lvl := levelWarn
	if defaultLevel != "" {
		lvl = parseLevel(defaultLevel)
	}
	log = newDefault(lvl, os.Stderr)
	return log
}

// Get returns the currently installed logger.
func Get() Logger {
	return log
}

type defaultLogger struct {
	level  level
	output io.Writer
}

func newDefault(lvl level, w io.Writer) *defaultLogger {
	return &defaultLogger{level: lvl, output: w}
}

func (l *defaultLogger) SetLogLevel(s string) { l.level = parseLevel(s) }

func (l *defaultLogger) Fatalf(format string, v ...interface{})   { l.printf(levelFatal, format, v...) }
func (l *defaultLogger) Errorf(format string, v ...interface{})   { l.printf(levelError, format, v...) }
func (l *defaultLogger) Warnf(format string, v ...interface{})    { l.printf(levelWarn, format, v...) }
func (l *defaultLogger) Infof(format string, v ...interface{})    { l.printf(levelInfo, format, v...) }
func (l *defaultLogger) Verbosef(format string, v ...interface{}) { l.printf(levelVerbose, format, v...) }
func (l *defaultLogger) Debugf(format string, v ...interface{})   { l.printf(levelDebug, format, v...) }
func (l *defaultLogger) Tracef(format string, v ...interface{})   { l.printf(levelTrace, format, v...) }

func (l *defaultLogger) printf(lvl level, format string, v ...interface{}) {
	if lvl > l.level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.999Z-07:00")
	fmt.Fprintf(l.output, ts+" ["+lvl.String()+"] mimalloc: "+format+"\n", v...)
}

func (l level) String() string {
	switch l {
	case levelIgnore:
		return "Ignor"
	case levelFatal:
		return "Fatal"
	case levelError:
		return "Error"
	case levelWarn:
		return "Warng"
	case levelInfo:
		return "Infom"
	case levelVerbose:
		return "Verbs"
	case levelDebug:
		return "Debug"
	case levelTrace:
		return "Trace"
	}
	return "Unkwn"
}

func parseLevel(s string) level {
	switch strings.ToLower(s) {
	case "ignore":
		return levelIgnore
	case "fatal":
		return levelFatal
	case "error":
		return levelError
	case "warn":
		return levelWarn
	case "info":
		return levelInfo
	case "verbose":
		return levelVerbose
	case "debug":
		return levelDebug
	case "trace":
		return levelTrace
	}
	return levelWarn
}
