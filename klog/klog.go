// Package klog is the kernel's leveled logging singleton. It mirrors
// gravwell's ingest/log Level enum and gwcli/clilog's package-level Writer
// singleton, but backs onto whatever synchronous sink the boot sequence
// installs (the kernel console) instead of a log file, since a freestanding
// kernel has no filesystem available until long after the first log lines
// are produced.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Level recreates gravwell's ingest/log.Level so callers don't need to
// import anything beyond this package to pick a verbosity.
type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	case FATAL:
		return "FATAL"
	default:
		return "OFF"
	}
}

// logger is the singleton implementation backing Writer.
type logger struct {
	mu       sync.Mutex
	sink     io.Writer
	min      Level
	bootID   uuid.UUID
	stampSet bool
}

var global = &logger{sink: os.Stdout, min: INFO}

// Init points the logger at sink (the kernel's synchronous console path in
// production, any io.Writer in tests) and sets the minimum level that will
// actually be written. Safe to call again to retarget the sink, e.g. once
// the console driver comes up after very-early boot prints went to a
// temporary buffer.
func Init(sink io.Writer, min Level) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.sink = sink
	global.min = min
	if !global.stampSet {
		global.bootID = uuid.New()
		global.stampSet = true
	}
}

// BootID returns the UUID stamped for this boot instance, generated once on
// first Init and stable for the lifetime of the process. It is included in
// the boot banner only; it is never written to on-disk structures.
func BootID() uuid.UUID {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.bootID
}

func logf(l Level, format string, args ...interface{}) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if l < global.min {
		return
	}
	fmt.Fprintf(global.sink, "[%s]: %s\n", l, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{})    { logf(DEBUG, format, args...) }
func Infof(format string, args ...interface{})     { logf(INFO, format, args...) }
func Warnf(format string, args ...interface{})     { logf(WARN, format, args...) }
func Errorf(format string, args ...interface{})    { logf(ERROR, format, args...) }
func Criticalf(format string, args ...interface{}) { logf(CRITICAL, format, args...) }

// Fatalf logs at FATAL and panics, matching the kernel's convention that
// unrecoverable conditions panic rather than propagate an error value.
func Fatalf(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	panic(fmt.Sprintf(format, args...))
}
