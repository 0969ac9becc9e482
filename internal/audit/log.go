package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/siftlabs/sift/internal/model"
)

// WriteLog persists audit entries as JSON Lines, one disagreement per line,
// preserving order.
func WriteLog(path string, entries []model.AuditEntry) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("failed to write audit entry %s: %w", entries[i].ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	return f.Close()
}

// ReadLog loads an audit log written by WriteLog, including any verdicts
// recorded since.
func ReadLog(path string) ([]model.AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []model.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry model.AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}
