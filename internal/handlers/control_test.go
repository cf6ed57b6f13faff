package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"extruderctl"
	"extruderctl/internal/control"
)

// doJSON runs an authenticated JSON request against the router.
func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", authHeader("tok").Get("Authorization"))
	r.ServeHTTP(w, req)
	return w
}

func TestGetState(t *testing.T) {
	ctl := &fakeControl{snapshot: extruderctl.Snapshot{
		Status: extruderctl.StatusRunning,
		Mode:   extruderctl.ModeAuto,
	}}
	r := newTestRouter(ctl, &mockAuth{parseID: 1}, &mockEventLog{}, &mockRecordings{})

	w := doJSON(r, http.MethodGet, "/api/v1/extruder/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
	var snap extruderctl.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Status != extruderctl.StatusRunning {
		t.Fatalf("status=%q", snap.Status)
	}
}

func TestStartStopAndEstop(t *testing.T) {
	ctl := &fakeControl{}
	r := newTestRouter(ctl, &mockAuth{parseID: 1}, &mockEventLog{}, &mockRecordings{})

	if w := doJSON(r, http.MethodPost, "/api/v1/extruder/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start status=%d, body=%s", w.Code, w.Body.String())
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/extruder/stop", ""); w.Code != http.StatusOK {
		t.Fatalf("stop status=%d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/extruder/estop", ""); w.Code != http.StatusOK {
		t.Fatalf("estop status=%d", w.Code)
	}
	if ctl.startCalls != 1 || ctl.stopCalls != 1 || ctl.estopCalls != 1 {
		t.Fatalf("calls: start=%d stop=%d estop=%d", ctl.startCalls, ctl.stopCalls, ctl.estopCalls)
	}
}

func TestCommandErrorMapping(t *testing.T) {
	cmdErr := func(code string) error { return &control.CommandError{Code: code} }

	tests := []struct {
		name       string
		setup      func(ctl *fakeControl)
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "alarm gated start is a conflict",
			setup:      func(ctl *fakeControl) { ctl.startErr = cmdErr(control.CodeAlarmActive) },
			method:     http.MethodPost,
			path:       "/api/v1/extruder/start",
			wantStatus: http.StatusConflict,
			wantError:  control.CodeAlarmActive,
		},
		{
			name:       "motor debounce is rate limited",
			setup:      func(ctl *fakeControl) { ctl.motorErr = cmdErr(control.CodeMotorDebounce) },
			method:     http.MethodPost,
			path:       "/api/v1/extruder/motor",
			body:       `{"motor":"main","rpm":100}`,
			wantStatus: http.StatusTooManyRequests,
			wantError:  control.CodeMotorDebounce,
		},
		{
			name:       "tune suggest without session is not found",
			setup:      func(ctl *fakeControl) { ctl.suggestErr = cmdErr(control.CodeNoResult) },
			method:     http.MethodGet,
			path:       "/api/v1/tune/suggest",
			wantStatus: http.StatusNotFound,
			wantError:  control.CodeNoResult,
		},
		{
			name:       "unknown alarm id is not found",
			setup:      func(ctl *fakeControl) { ctl.ackErr = cmdErr(control.CodeUnknownAlarm) },
			method:     http.MethodPost,
			path:       "/api/v1/alarms/ack",
			body:       `{"id":"nope"}`,
			wantStatus: http.StatusNotFound,
			wantError:  control.CodeUnknownAlarm,
		},
		{
			name:       "emergency button blocks clear",
			setup:      func(ctl *fakeControl) { ctl.clearErr = cmdErr(control.CodeEmergencyButtonActive) },
			method:     http.MethodPost,
			path:       "/api/v1/alarms/clear",
			wantStatus: http.StatusConflict,
			wantError:  control.CodeEmergencyButtonActive,
		},
		{
			name:       "validation failure is a bad request",
			setup:      func(ctl *fakeControl) { ctl.modeErr = cmdErr(control.CodeInvalidMode) },
			method:     http.MethodPost,
			path:       "/api/v1/extruder/mode",
			body:       `{"mode":"TURBO"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  control.CodeInvalidMode,
		},
		{
			name:       "unexpected error is internal",
			setup:      func(ctl *fakeControl) { ctl.startErr = errors.New("boom") },
			method:     http.MethodPost,
			path:       "/api/v1/extruder/start",
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeControl{}
			tt.setup(ctl)
			r := newTestRouter(ctl, &mockAuth{parseID: 1}, &mockEventLog{}, &mockRecordings{})

			w := doJSON(r, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status=%d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			var m map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &m)
			if m["error"] != tt.wantError {
				t.Fatalf("error=%v, want %q", m["error"], tt.wantError)
			}
		})
	}
}

func TestSetMotorPassesPayload(t *testing.T) {
	ctl := &fakeControl{}
	r := newTestRouter(ctl, &mockAuth{parseID: 1}, &mockEventLog{}, &mockRecordings{})

	w := doJSON(r, http.MethodPost, "/api/v1/extruder/motor", `{"motor":"feed","rpm":120.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
	if ctl.lastMotor != extruderctl.MotorFeed || ctl.lastRPM != 120.5 {
		t.Fatalf("controller saw motor=%q rpm=%v", ctl.lastMotor, ctl.lastRPM)
	}

	// Missing required field binds to 400.
	if w := doJSON(r, http.MethodPost, "/api/v1/extruder/motor", `{"rpm":10}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing motor, got %d", w.Code)
	}
}

func TestUpdatePIDUsesPathZone(t *testing.T) {
	ctl := &fakeControl{}
	r := newTestRouter(ctl, &mockAuth{parseID: 1}, &mockEventLog{}, &mockRecordings{})

	w := doJSON(r, http.MethodPut, "/api/v1/pid/z1", `{"kp":5,"ki":0.2,"kd":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
	var m map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if m["zone"] != "z1" {
		t.Fatalf("zone=%v", m["zone"])
	}
}

func TestTuneStatusIncludesResultWhenPresent(t *testing.T) {
	ctl := &fakeControl{
		tunePhase:  control.TuneDone,
		tuneZone:   extruderctl.ZoneZ1,
		tuneCycles: 3,
		tuneResult: &extruderctl.TuneResult{Zone: extruderctl.ZoneZ1, Method: control.MethodTyreusLuyben, Kp: 12.3},
	}
	r := newTestRouter(ctl, &mockAuth{parseID: 1}, &mockEventLog{}, &mockRecordings{})

	w := doJSON(r, http.MethodGet, "/api/v1/tune/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var m map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if m["result"] == nil {
		t.Fatalf("expected result in body: %s", w.Body.String())
	}

	// Apply with an empty body selects the default method.
	if w := doJSON(r, http.MethodPost, "/api/v1/tune/apply", ""); w.Code != http.StatusOK {
		t.Fatalf("apply status=%d, body=%s", w.Code, w.Body.String())
	}
}

func TestListRecordings(t *testing.T) {
	recs := &mockRecordings{files: []string{"run_20260201_100000.csv"}}
	r := newTestRouter(&fakeControl{}, &mockAuth{parseID: 1}, &mockEventLog{}, recs)

	w := doJSON(r, http.MethodGet, "/api/v1/datalog/files", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var m map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m["files"]) != 1 || m["files"][0] != "run_20260201_100000.csv" {
		t.Fatalf("files=%v", m["files"])
	}
}
