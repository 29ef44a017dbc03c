package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/go-pkgz/lgr"
)

var (
	mu  sync.RWMutex
	std lgr.L = lgr.New(lgr.Msec, lgr.LevelBraces)
)

// Setup rebuilds the process logger. DEBUG lines are dropped unless debug
// is set. Every value in secrets is masked in the output.
func Setup(debug bool, secrets ...string) {
	setup(os.Stdout, os.Stderr, debug, secrets...)
}

func setup(out, errOut io.Writer, debug bool, secrets ...string) {
	opts := []lgr.Option{lgr.Out(out), lgr.Err(errOut), lgr.Msec, lgr.LevelBraces, lgr.Secret(secrets...)}
	if debug {
		opts = append(opts, lgr.Debug)
	}

	mu.Lock()
	std = lgr.New(opts...)
	mu.Unlock()
}

// Backend exposes the underlying logger for middleware that accepts an lgr.L.
func Backend() lgr.L {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// LogErr logs the provided error (if non-nil) and returns it unchanged.
// It is meant to be used inline when propagating errors up the call stack.
func LogErr(err error) error {
	if err == nil {
		return nil
	}
	logErrorWithSkip(err, skipForPublicAPI)
	return err
}

// Fatal logs the provided error (if non-nil) and terminates the process.
func Fatal(err error) {
	if err == nil {
		return
	}
	logErrorWithSkip(err, skipForPublicAPI)
	os.Exit(1)
}

// Error logs the provided error (if non-nil).
func Error(err error) {
	if err == nil {
		return
	}
	logErrorWithSkip(err, skipForPublicAPI)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	logWithSkip("WARN", skipForPublicAPI, fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	logWithSkip("INFO", skipForPublicAPI, fmt.Sprintf(format, args...))
}

// Debug logs a message visible only when Setup was called with debug on.
func Debug(format string, args ...interface{}) {
	logWithSkip("DEBUG", skipForPublicAPI, fmt.Sprintf(format, args...))
}

const skipForPublicAPI = 3

func logErrorWithSkip(err error, skip int) {
	logWithSkip("ERROR", skip+1, err.Error())
}

func logWithSkip(level string, skip int, message string) {
	l := Backend()

	pcs := make([]uintptr, 1)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		l.Logf("[%s] %s", level, message)
		return
	}

	frame, _ := runtime.CallersFrames(pcs).Next()
	file := filepath.Base(frame.File)
	funcName := frame.Function
	if file == "" {
		file = "unknown"
	}
	if funcName == "" {
		funcName = "unknown"
	}

	l.Logf("[%s] %s:%s %s", level, file, funcName, message)
}
