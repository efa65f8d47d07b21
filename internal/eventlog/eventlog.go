// Package eventlog writes structured JSONL events describing orchestrator
// activity: task lifecycle, provider failures, pressure transitions, health
// snapshots. Logging is best-effort and never fails the caller.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Type classifies an event in the event stream.
type Type string

const (
	TypeSessionStart   Type = "session_start"
	TypeSessionEnd     Type = "session_end"
	TypeTaskSubmitted  Type = "task_submitted"
	TypeTaskCompleted  Type = "task_completed"
	TypeTaskFailed     Type = "task_failed"
	TypeTaskRetried    Type = "task_retried"
	TypeTaskCancelled  Type = "task_cancelled"
	TypeStreamOpened   Type = "stream_opened"
	TypeProviderError  Type = "provider_error"
	TypeCacheError     Type = "cache_error"
	TypePressureChange Type = "pressure_change"
	TypeHealthCheck    Type = "health_check"
)

// Event is a single structured event in the event stream.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
}

// Logger writes structured JSONL events to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	enc       *json.Encoder
	sessionID string
	logPath   string
}

// New creates an event logger for the given session.
// Events are written to ~/.local/share/conduit/events/{session_id}.jsonl.
func New(sessionID string) (*Logger, error) {
	var lastErr error
	for _, dir := range eventLogDirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			lastErr = fmt.Errorf("create events directory %s: %w", dir, err)
			continue
		}

		logPath := filepath.Join(dir, sessionID+".jsonl")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			lastErr = fmt.Errorf("open event log %s: %w", logPath, err)
			continue
		}

		return &Logger{
			file:      f,
			enc:       json.NewEncoder(f),
			sessionID: sessionID,
			logPath:   logPath,
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no writable events directory found")
	}
	return nil, lastErr
}

// eventLogDirs returns candidate directories in priority order.
// 1) CONDUIT_EVENTS_DIR (explicit override)
// 2) ~/.local/share/conduit/events (default)
// 3) $TMPDIR/conduit/events (fallback for restricted environments)
func eventLogDirs() []string {
	seen := make(map[string]bool)
	var dirs []string

	add := func(dir string) {
		dir = strings.TrimSpace(dir)
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	add(os.Getenv("CONDUIT_EVENTS_DIR"))

	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".local", "share", "conduit", "events"))
	}

	add(filepath.Join(os.TempDir(), "conduit", "events"))
	return dirs
}

// Log writes an event to the JSONL file. Safe on a nil logger.
func (l *Logger) Log(evtType Type, data any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	evt := Event{
		Type:      evtType,
		Timestamp: time.Now(),
		SessionID: l.sessionID,
		Data:      data,
	}
	_ = l.enc.Encode(evt)
}

// Path returns the log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logPath
}

// Close flushes and closes the event log file.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}

// ReadRecent reads the last n events from the log file.
func (l *Logger) ReadRecent(n int) ([]Event, error) {
	l.mu.Lock()
	path := l.logPath
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		var evt Event
		if json.Unmarshal(scanner.Bytes(), &evt) == nil {
			events = append(events, evt)
		}
	}

	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// FormatEvents formats events for display.
func FormatEvents(events []Event, title string) string {
	if len(events) == 0 {
		return "No events recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%d events):\n", title, len(events)))
	for _, evt := range events {
		ts := evt.Timestamp.Format("15:04:05")
		dataStr := ""
		if evt.Data != nil {
			switch d := evt.Data.(type) {
			case string:
				dataStr = truncate(d, 80)
			case map[string]any:
				if id, ok := d["task_id"].(string); ok {
					dataStr = "task=" + truncate(id, 12)
				} else if level, ok := d["level"].(string); ok {
					dataStr = "level=" + level
				} else if prov, ok := d["provider"].(string); ok {
					dataStr = prov
				} else if errMsg, ok := d["error"].(string); ok {
					dataStr = truncate(errMsg, 80)
				}
			default:
				raw, _ := json.Marshal(d)
				dataStr = truncate(string(raw), 80)
			}
		}
		if dataStr != "" {
			sb.WriteString(fmt.Sprintf("  %s  %-16s  %s\n", ts, evt.Type, dataStr))
		} else {
			sb.WriteString(fmt.Sprintf("  %s  %s\n", ts, evt.Type))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
