package datalog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"extruderctl"
)

func sampleSnapshot() extruderctl.Snapshot {
	return extruderctl.Snapshot{
		Status: extruderctl.StatusRunning,
		Mode:   extruderctl.ModeAuto,
		Temps: map[string]float64{
			extruderctl.SensorFeed:  25,
			extruderctl.SensorZone1: 199.5,
			extruderctl.SensorZone2: 204.25,
			extruderctl.SensorMotor: 41,
		},
		Targets:    map[extruderctl.Zone]float64{extruderctl.ZoneZ1: 200, extruderctl.ZoneZ2: 205},
		HeaterDuty: map[extruderctl.Zone]float64{extruderctl.ZoneZ1: 33.333, extruderctl.ZoneZ2: 0},
		Motors:     map[extruderctl.Motor]float64{extruderctl.MotorMain: 120, extruderctl.MotorFeed: 60},
		Relays:     map[string]bool{"fan": true, "pump": false},
	}
}

func readRows(t *testing.T, dir string) [][]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one recording, found %d", len(entries))
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestCSVLogger_RecordsRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := NewCSVLogger(dir)
	start := time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)

	if err := l.Start(start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !l.Recording() {
		t.Fatal("Recording() = false after Start")
	}

	if err := l.Log(sampleSnapshot(), start.Add(time.Second)); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.Recording() {
		t.Fatal("Recording() = true after Stop")
	}

	rows := readRows(t, dir)
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	if rows[0][0] != "time" || rows[0][len(rows[0])-1] != "pump" {
		t.Errorf("unexpected header: %v", rows[0])
	}

	row := rows[1]
	want := []string{
		start.Add(time.Second).Format(time.RFC3339),
		"RUNNING", "AUTO",
		"25.00", "199.50", "204.25", "41.00",
		"200.00", "205.00",
		"33.33", "0.00",
		"120.00", "60.00",
		"true", "false",
	}
	if len(row) != len(want) {
		t.Fatalf("row width %d, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, row[i], want[i])
		}
	}
}

func TestCSVLogger_DoubleStartKeepsFirstFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := NewCSVLogger(dir)
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	if err := l.Start(start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(start.Add(time.Minute)); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("double Start split the run into %d files", len(entries))
	}
	if entries[0].Name() != "run_20260201_100000.csv" {
		t.Errorf("unexpected file name %q", entries[0].Name())
	}
}

func TestCSVLogger_LogWithoutRecordingIsNoOp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := NewCSVLogger(dir)

	if err := l.Log(sampleSnapshot(), time.Now()); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) != 0 {
		t.Fatalf("no file should exist, found %d", len(entries))
	}
}

func TestCSVLogger_Files(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := NewCSVLogger(dir)

	// Missing directory lists as empty.
	missing := NewCSVLogger(filepath.Join(dir, "nope"))
	names, err := missing.Files()
	if err != nil || names != nil {
		t.Fatalf("Files on missing dir = %v, %v", names, err)
	}

	if err := l.Start(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Non-CSV clutter is ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	names, err = l.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(names) != 1 || names[0] != "run_20260201_090000.csv" {
		t.Fatalf("Files = %v", names)
	}
}
