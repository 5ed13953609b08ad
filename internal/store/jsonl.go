package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tobyv/tokentrail/internal/model"
)

// JSONL persists usage events as one JSON object per line in an append
// log. Writes go straight to the file descriptor (no buffering), so a
// reader opening the same path immediately sees every appended event.
type JSONL struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenJSONL opens (creating if necessary) the append log at path,
// including any missing parent directories.
func OpenJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &JSONL{path: path, file: file}, nil
}

// Append durably persists one event as a JSON line.
func (j *JSONL) Append(e model.UsageEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.file.Write(append(data, '\n'))
	return err
}

// LoadAll returns all persisted events in original insertion order.
// A missing file reads as empty, not as an error; malformed lines are
// skipped.
func (j *JSONL) LoadAll() ([]model.UsageEvent, error) {
	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []model.UsageEvent
	scanner := bufio.NewScanner(file)

	// Large call stacks can make long lines.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e model.UsageEvent
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

// Close releases the underlying file handle.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
