package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"extruderctl"
)

func TestGetLogs_FiltersReachService(t *testing.T) {
	events := &mockEventLog{resp: []extruderctl.Event{
		{EventID: "1", Type: extruderctl.EventAlarm, Description: "motor fault"},
	}}
	r := newTestRouter(&fakeControl{}, &mockAuth{parseID: 1}, events, &mockRecordings{})

	w := doJSON(r, http.MethodGet, "/api/v1/logs/?from=2026-02-01&to=2026-02-02&type=alarm", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}

	var m map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if int(m["count"].(float64)) != 1 {
		t.Fatalf("count=%v", m["count"])
	}

	if events.lastType != "ALARM" {
		t.Errorf("type not normalized: %q", events.lastType)
	}
	wantFrom := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if !events.lastFrom.Equal(wantFrom) {
		t.Errorf("from=%v, want %v", events.lastFrom, wantFrom)
	}
	// Date-only 'to' is end-of-day inclusive.
	wantTo := time.Date(2026, 2, 2, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
	if !events.lastTo.Equal(wantTo) {
		t.Errorf("to=%v, want %v", events.lastTo, wantTo)
	}
}

func TestGetLogs_BadQueries(t *testing.T) {
	r := newTestRouter(&fakeControl{}, &mockAuth{parseID: 1}, &mockEventLog{}, &mockRecordings{})

	if w := doJSON(r, http.MethodGet, "/api/v1/logs/?from=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: status=%d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/v1/logs/?from=2026-02-02&to=2026-02-01", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: status=%d", w.Code)
	}
}

func TestGetLogs_ServiceError(t *testing.T) {
	events := &mockEventLog{err: errors.New("db down")}
	r := newTestRouter(&fakeControl{}, &mockAuth{parseID: 1}, events, &mockRecordings{})

	if w := doJSON(r, http.MethodGet, "/api/v1/logs/", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}
