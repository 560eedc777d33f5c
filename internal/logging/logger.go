package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RunLog represents a single completed RunRequest, written by the server
// façade (cmdproxyserver.Server.complete) once the task's response has been
// handed to the broker.
type RunLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Queue      string    `json:"queue"`
	Command    string    `json:"command,omitempty"`
	ReturnCode int       `json:"return_code"`
	Exc        string    `json:"exc,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	StagedIn   int       `json:"staged_in,omitempty"`
	StagedOut  int       `json:"staged_out,omitempty"`
}

// RunLogger handles per-run logging, separate from the operational logger
// returned by Op().
type RunLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultRunLogger = &RunLogger{enabled: true, console: true}

// DefaultRunLogger returns the default run logger.
func DefaultRunLogger() *RunLogger {
	return defaultRunLogger
}

// SetOutput sets the run log output file (JSON lines).
func (l *RunLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables the human-readable console line.
func (l *RunLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a run log entry.
func (l *RunLogger) Log(entry *RunLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "ok"
		if entry.ReturnCode != 0 || entry.Exc != "" {
			status = "fail"
		}
		fmt.Printf("[run] %s %s queue=%s rc=%d %dms\n",
			status, entry.RequestID, entry.Queue, entry.ReturnCode, entry.DurationMs)
		if entry.Exc != "" {
			fmt.Printf("[run]   exc: %s\n", entry.Exc)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the run log file.
func (l *RunLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
