package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"extruderctl"
)

func TestAlarmFile_SaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "alarms.json")
	store := NewAlarmFile(path)

	records := []extruderctl.AlarmRecord{
		{
			ID:        "a1",
			Cause:     extruderctl.CauseMotorOverheat,
			Severity:  extruderctl.SeverityWarning,
			Message:   "motor temperature above limit",
			CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:           "a2",
			Cause:        extruderctl.CauseEmergencyButton,
			Severity:     extruderctl.SeverityCritical,
			Message:      "emergency stop button pressed",
			CreatedAt:    time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC),
			Acknowledged: true,
			Cleared:      true,
		},
	}

	if err := store.Save(records); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 records, got %d", len(got))
	}
	if got[0].ID != "a1" || got[0].Cause != extruderctl.CauseMotorOverheat {
		t.Errorf("first record mismatch: %+v", got[0])
	}
	if !got[1].Acknowledged || !got[1].Cleared {
		t.Errorf("flags lost on roundtrip: %+v", got[1])
	}
}

func TestAlarmFile_MissingFileIsEmptyHistory(t *testing.T) {
	t.Parallel()

	store := NewAlarmFile(filepath.Join(t.TempDir(), "nope.json"))
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil history, got %+v", got)
	}
}

func TestAlarmFile_CorruptFileIsEmptyHistory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarms.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewAlarmFile(path)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil history for corrupt file, got %+v", got)
	}
}

func TestAlarmFile_SaveOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarms.json")
	store := NewAlarmFile(path)

	if err := store.Save([]extruderctl.AlarmRecord{{ID: "old"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save([]extruderctl.AlarmRecord{{ID: "new1"}, {ID: "new2"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new1" {
		t.Fatalf("overwrite failed: %+v", got)
	}

	// No leftover temp files from the atomic write.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the history file, found %d entries", len(entries))
	}
}
