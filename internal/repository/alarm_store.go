package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"extruderctl"
)

// AlarmFile persists the alarm history as a single JSON document. The file
// survives restarts so latched faults cannot be discharged by power
// cycling the controller.
type AlarmFile struct {
	mu   sync.Mutex
	path string
}

func NewAlarmFile(path string) *AlarmFile {
	return &AlarmFile{path: path}
}

var _ AlarmStore = (*AlarmFile)(nil)

// Save writes the full history atomically: to a temp file first, then a
// rename, so a crash mid-write never truncates the previous history.
func (s *AlarmFile) Save(records []extruderctl.AlarmRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal alarm history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create alarm dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".alarms-*.json")
	if err != nil {
		return fmt.Errorf("create temp alarm file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp alarm file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp alarm file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace alarm file %q: %w", s.path, err)
	}
	return nil
}

// Load reads the history. A missing or corrupt file yields an empty
// history rather than an error: a bad history must not keep the
// controller from starting.
func (s *AlarmFile) Load() ([]extruderctl.AlarmRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read alarm file %q: %w", s.path, err)
	}

	var records []extruderctl.AlarmRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, nil
	}
	return records, nil
}
