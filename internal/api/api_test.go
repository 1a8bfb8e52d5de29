package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zsiec/tscast/internal/cycle"
	"github.com/zsiec/tscast/internal/session"
)

func testServer(list []session.Info) *Server {
	return NewServer(Config{
		Sessions:        func() []session.Info { return list },
		CertFingerprint: "abcd",
		Version:         "test",
	}, nil)
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		list []session.Info
		want int
	}{
		{"empty", nil, 0},
		{"two", []session.Info{
			{Key: "a", StartedAt: time.Unix(0, 0), Stats: cycle.Stats{State: "streaming", ChunksSent: 10}},
			{Key: "b"},
		}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			testServer(tc.list).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status: got %d, want 200", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: got %q", ct)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("missing CORS header")
			}
			var got []session.Info
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if got == nil || len(got) != tc.want {
				t.Errorf("sessions: got %v, want %d entries", got, tc.want)
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	t.Parallel()
	srv := testServer([]session.Info{{Key: "cam-1", Stats: cycle.Stats{State: "streaming", BytesSent: 1316}}})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/cam-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var info session.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Stats.BytesSent != 1316 || info.Stats.State != "streaming" {
		t.Errorf("info = %+v", info)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session status: got %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	testServer([]session.Info{{Key: "a"}}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	var h healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Sessions != 1 || h.CertFingerprint != "abcd" || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	testServer(nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}
