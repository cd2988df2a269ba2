// Package debug provides a verbose structured logger for development
// diagnostics.
//
// When enabled via --debug, significant supervisor events are written to a
// single .log file under ~/.spindle/debug/. Lines carry nanosecond
// timestamps, goroutine IDs, and caller locations so a spool's path through
// admission, spawn, and finalization can be reconstructed after the fact.
//
// When disabled (the default), all logging functions are no-ops.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/spindle/internal/hexid"
)

var (
	logger   *Logger
	loggerMu sync.RWMutex
)

const (
	// EnvEnabled toggles debug logger initialization for spindle processes.
	EnvEnabled = "SPINDLE_DEBUG_ENABLED"
	// EnvLogPath forces logs to be appended to an existing debug file.
	EnvLogPath = "SPINDLE_DEBUG_LOG_PATH"
)

// Logger writes structured debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
	pid       int
}

// Init initializes the global debug logger, creating ~/.spindle/debug/ when
// needed. Returns the log file path. Safe to call more than once.
func Init() (string, error) {
	loggerMu.RLock()
	if logger != nil {
		p := logger.path
		loggerMu.RUnlock()
		return p, nil
	}
	loggerMu.RUnlock()

	path, inherited, err := resolveLogPath()
	if err != nil {
		return "", err
	}
	now := time.Now()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	l := &Logger{file: f, path: path, startedAt: now, pid: os.Getpid()}

	if inherited {
		f.WriteString(fmt.Sprintf("\n=== SPINDLE DEBUG PROCESS ATTACHED === pid=%d at=%s\n", l.pid, now.Format(time.RFC3339Nano)))
	} else {
		f.WriteString(fmt.Sprintf("=== SPINDLE DEBUG LOG === pid=%d started=%s file=%s\n\n", l.pid, now.Format(time.RFC3339Nano), path))
	}

	loggerMu.Lock()
	if logger != nil {
		p := logger.path
		loggerMu.Unlock()
		_ = f.Close()
		return p, nil
	}
	logger = l
	loggerMu.Unlock()

	return path, nil
}

// Close flushes and closes the debug log. Safe to call when not initialized.
func Close() {
	loggerMu.Lock()
	l := logger
	logger = nil
	loggerMu.Unlock()

	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.WriteString(fmt.Sprintf("\n=== DEBUG LOG CLOSED === pid=%d duration=%s\n", l.pid, time.Since(l.startedAt)))
	l.file.Close()
}

// Enabled returns true if the debug logger is active.
func Enabled() bool {
	loggerMu.RLock()
	e := logger != nil
	loggerMu.RUnlock()
	return e
}

// Path returns the log file path, or "" if not enabled.
func Path() string {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return ""
	}
	return l.path
}

// ShouldEnableFromEnv reports whether debug logging should be initialized
// based on inherited environment variables.
func ShouldEnableFromEnv() bool {
	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	switch strings.TrimSpace(strings.ToLower(os.Getenv(EnvEnabled))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return path != ""
	}
}

// Log writes a debug line. No-op when debug is disabled.
func Log(component, msg string) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	l.write(component, msg)
}

// Logf writes a formatted debug line. No-op when debug is disabled.
func Logf(component, format string, args ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	l.write(component, fmt.Sprintf(format, args...))
}

// LogKV writes a debug line with key-value context pairs.
// Usage: debug.LogKV("monitor", "spool finalized", "id", "ab12cd34", "status", "complete")
func LogKV(component, msg string, kvs ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		b.WriteString(fmt.Sprintf(" %v=%v", kvs[i], kvs[i+1]))
	}
	l.write(component, b.String())
}

func (l *Logger) write(component, msg string) {
	now := time.Now()
	elapsed := now.Sub(l.startedAt)
	gid := goroutineID()

	caller := "??:0"
	if _, file, line, ok := runtime.Caller(2); ok {
		if idx := strings.LastIndex(file, "/internal/"); idx >= 0 {
			file = file[idx+1:]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	line := fmt.Sprintf("%s +%12s [P%-6d] [G%-6d] [%-12s] %-36s | %s\n",
		now.Format("15:04:05.000000000"),
		elapsed.Truncate(time.Microsecond),
		l.pid,
		gid,
		component,
		caller,
		msg,
	)

	l.mu.Lock()
	l.file.WriteString(line)
	l.mu.Unlock()
}

func resolveLogPath() (string, bool, error) {
	if inherited := strings.TrimSpace(os.Getenv(EnvLogPath)); inherited != "" {
		if dir := filepath.Dir(inherited); dir != "." && dir != string(filepath.Separator) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", true, fmt.Errorf("debug: create dir %s: %w", dir, err)
			}
		}
		return inherited, true, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("debug: user home dir: %w", err)
	}
	dir := filepath.Join(home, ".spindle", "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("debug: create dir %s: %w", dir, err)
	}
	filename := fmt.Sprintf("%s_%s.log", time.Now().Format("20060102T150405"), hexid.New())
	return filepath.Join(dir, filename), false, nil
}

// goroutineID extracts the goroutine ID from runtime.Stack output. Only used
// in debug mode where performance is secondary.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := string(buf[:n])
	if !strings.HasPrefix(s, "goroutine ") {
		return 0
	}
	s = s[len("goroutine "):]
	var id int64
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
