package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUserIdMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		parseErr   error
		wantStatus int
	}{
		{"missing header", "", nil, http.StatusUnauthorized},
		{"not bearer", "Basic abc", nil, http.StatusUnauthorized},
		{"bad token", "Bearer bad", errors.New("invalid"), http.StatusUnauthorized},
		{"valid token", "Bearer good", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuth{parseID: 7, parseErr: tt.parseErr}
			r := newTestRouter(&fakeControl{}, auth, &mockEventLog{}, &mockRecordings{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/extruder/state", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status=%d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.name == "valid token" && auth.lastParseToken != "good" {
				t.Fatalf("ParseToken saw %q", auth.lastParseToken)
			}
		})
	}
}

func TestHealthAndUnprotectedRoutes(t *testing.T) {
	r := newTestRouter(&fakeControl{}, &mockAuth{}, &mockEventLog{}, &mockRecordings{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status=%d", w.Code)
	}
}
