package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// activeLogger is the trace sink debugLog writes through. WithLogger swaps it.
var activeLogger atomic.Pointer[DebugLogger]

func setPackageLogger(l *DebugLogger) {
	activeLogger.Store(l)
}

// debugLog traces one coordinator step. A no-op until a logger is wired.
func debugLog(format string, args ...interface{}) {
	activeLogger.Load().Log(format, args...)
}

// DebugLogger appends trace lines to a per-project log file.
// The zero value discards everything.
type DebugLogger struct {
	mu  sync.Mutex
	out *os.File
}

// NewDebugLoggerForProject opens the trace log under the project's
// .ensemble/logs directory. Failures yield a discarding logger: tracing must
// never keep a session from running.
func NewDebugLoggerForProject(projectPath string) *DebugLogger {
	path := filepath.Join(projectPath, ".ensemble", "logs", "coordinator-debug.log")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &DebugLogger{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &DebugLogger{}
	}
	l := &DebugLogger{out: f}
	l.Log("--- trace opened %s ---", time.Now().Format(time.RFC3339))
	return l
}

// Log appends one timestamped line. Safe on a nil or discarding logger.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.out == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

// Close closes the log file. Safe on a nil or discarding logger.
func (l *DebugLogger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
