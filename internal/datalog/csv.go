// Package datalog writes timestamped CSV recordings of the running
// process, one file per recording session.
package datalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"extruderctl"
)

var header = []string{
	"time",
	"status", "mode",
	"t1", "t2", "t3", "motor_temp",
	"target_z1", "target_z2",
	"duty_z1", "duty_z2",
	"rpm_main", "rpm_feed",
	"fan", "pump",
}

// CSVLogger records process snapshots into run_YYYYMMDD_HHMMSS.csv files
// under a fixed directory. Start and Stop are operator commands; Log is
// called from the control loop at the configured interval.
type CSVLogger struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	w    *csv.Writer
}

func NewCSVLogger(dir string) *CSVLogger {
	return &CSVLogger{dir: dir}
}

// Start opens a new recording file. Starting while already recording is a
// no-op so a double-tap on the UI button cannot split a run.
func (l *CSVLogger) Start(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir %q: %w", l.dir, err)
	}

	name := filepath.Join(l.dir, "run_"+now.Format("20060102_150405")+".csv")
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create log file %q: %w", name, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write log header: %w", err)
	}
	w.Flush()

	l.file = f
	l.w = w
	return nil
}

// Stop flushes and closes the active recording, if any.
func (l *CSVLogger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.w.Flush()
	err := l.file.Close()
	l.file, l.w = nil, nil
	return err
}

// Recording reports whether a file is open.
func (l *CSVLogger) Recording() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Log appends one row from a snapshot. Silently returns when no recording
// is active so the control loop never has to check first.
func (l *CSVLogger) Log(snap extruderctl.Snapshot, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}

	row := []string{
		now.Format(time.RFC3339),
		string(snap.Status), string(snap.Mode),
		num(snap.Temps[extruderctl.SensorFeed]),
		num(snap.Temps[extruderctl.SensorZone1]),
		num(snap.Temps[extruderctl.SensorZone2]),
		num(snap.Temps[extruderctl.SensorMotor]),
		num(snap.Targets[extruderctl.ZoneZ1]),
		num(snap.Targets[extruderctl.ZoneZ2]),
		num(snap.HeaterDuty[extruderctl.ZoneZ1]),
		num(snap.HeaterDuty[extruderctl.ZoneZ2]),
		num(snap.Motors[extruderctl.MotorMain]),
		num(snap.Motors[extruderctl.MotorFeed]),
		strconv.FormatBool(snap.Relays["fan"]),
		strconv.FormatBool(snap.Relays["pump"]),
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write log row: %w", err)
	}
	l.w.Flush()
	return l.w.Error()
}

// Files lists the recordings on disk, newest name last.
func (l *CSVLogger) Files() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".csv" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
