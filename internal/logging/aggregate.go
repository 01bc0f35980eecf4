package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of dysche.log.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Instance  string         `json:"instance,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	BootID    string         `json:"boot_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects log entries. Zero-valued fields match everything.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level           string
	Since           time.Time
	Instance        string
	Phase           string
	MessageContains string
	// Limit keeps only the last N matching entries.
	Limit int
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// AggregateLogs reads {stateDir}/dysche.log and returns its entries sorted by
// time. Lines that are not valid JSON are skipped.
func AggregateLogs(stateDir string) ([]LogEntry, error) {
	f, err := os.Open(filepath.Join(stateDir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file in %s: %w", stateDir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ReadEntries(f)
}

// ReadEntries parses JSON log lines from r.
func ReadEntries(r io.Reader) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(r)
	const maxLine = 1 << 20
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, err
	}

	var entry LogEntry
	if ts, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Timestamp = t
		}
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.Instance, _ = raw["instance"].(string)
	entry.Phase, _ = raw["phase"].(string)
	entry.BootID, _ = raw["boot_id"].(string)

	for _, k := range []string{"time", "level", "msg", "instance", "phase", "boot_id"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		entry.Attrs = raw
	}
	return entry, nil
}

// FilterLogs returns the entries matching f, preserving order.
func FilterLogs(entries []LogEntry, f LogFilter) []LogEntry {
	minLevel := -1
	if f.Level != "" {
		if lvl, ok := levelOrder[strings.ToUpper(f.Level)]; ok {
			minLevel = lvl
		}
	}

	var out []LogEntry
	for _, e := range entries {
		if minLevel >= 0 {
			if lvl, ok := levelOrder[strings.ToUpper(e.Level)]; ok && lvl < minLevel {
				continue
			}
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if f.Instance != "" && e.Instance != f.Instance {
			continue
		}
		if f.Phase != "" && e.Phase != f.Phase {
			continue
		}
		if f.MessageContains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.MessageContains)) {
			continue
		}
		out = append(out, e)
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Format renders an entry as a single human-readable line.
func (e LogEntry) Format() string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(&b, " %-5s", e.Level)
	if e.Instance != "" {
		fmt.Fprintf(&b, " [%s", e.Instance)
		if e.Phase != "" {
			fmt.Fprintf(&b, "/%s", e.Phase)
		}
		b.WriteString("]")
	} else if e.Phase != "" {
		fmt.Fprintf(&b, " [%s]", e.Phase)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)

	if len(e.Attrs) > 0 {
		keys := make([]string, 0, len(e.Attrs))
		for k := range e.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
		}
	}
	return b.String()
}
