package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/talgya/hive-sim/internal/bees"
	"github.com/talgya/hive-sim/internal/colony"
	"github.com/talgya/hive-sim/internal/engine"
	"github.com/talgya/hive-sim/internal/events"
	"github.com/talgya/hive-sim/internal/observability"
	"github.com/talgya/hive-sim/internal/persistence"
	"github.com/talgya/hive-sim/internal/scheduler"
	"github.com/talgya/hive-sim/internal/weather"
	"github.com/talgya/hive-sim/internal/world"
)

const testKey = "s3cret"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	srv    *Server
	eng    *engine.Engine
	colony *colony.Colony
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		t.Fatal(err)
	}

	meadow := world.Generate(world.SmallTestConfig())
	env := weather.New(weather.DefaultConfig(), meadow)
	sched := scheduler.New(scheduler.Options{MaxConcurrency: 4, Seed: 1, Logger: quiet})
	eng, err := engine.New(engine.NewState(), env, sched,
		engine.WithLogger(quiet), engine.WithMetrics(metrics))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })

	c := colony.Found(colony.Config{
		Name:       "Linden",
		Workers:    20,
		MinWorkers: 5,
		Honey:      50,
	}, bees.NewSpawner(3), engine.DefaultEpoch)
	if err := eng.AddColony(c); err != nil {
		t.Fatal(err)
	}

	srv := &Server{Eng: eng, Gatherer: reg, AdminKey: testKey, Logger: quiet}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &fixture{srv: srv, eng: eng, colony: c}
}

func (f *fixture) do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, f.srv.Handler(), http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["status"] != "stopped" {
		t.Errorf("status = %v, want stopped", got["status"])
	}
	if got["colonies"] != float64(1) || got["viable"] != float64(1) {
		t.Errorf("colonies/viable = %v/%v", got["colonies"], got["viable"])
	}
	if got["living"] != float64(f.colony.LivingCount()) {
		t.Errorf("living = %v, want %d", got["living"], f.colony.LivingCount())
	}
	if _, ok := got["weather"]; !ok {
		t.Error("missing weather")
	}
}

func TestColonies(t *testing.T) {
	f := newFixture(t)
	h := f.srv.Handler()

	list := decode[[]colonySummary](t, f.do(t, h, http.MethodGet, "/api/v1/colonies", "", ""))
	if len(list) != 1 || list[0].ID != f.colony.ID() || list[0].Name != "Linden" {
		t.Fatalf("colonies = %+v", list)
	}
	if list[0].Kinds["worker"] != 20 || list[0].Kinds["queen"] != 1 {
		t.Errorf("kinds = %v", list[0].Kinds)
	}

	detail := decode[colony.Snapshot](t, f.do(t, h, http.MethodGet, "/api/v1/colonies/"+f.colony.ID(), "", ""))
	if len(detail.Bees) != 21 {
		t.Errorf("detail bees = %d, want 21", len(detail.Bees))
	}

	if rec := f.do(t, h, http.MethodGet, "/api/v1/colonies/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown colony code = %d", rec.Code)
	}
}

func TestEventsFromRing(t *testing.T) {
	f := newFixture(t)
	h := f.srv.Handler()

	if err := f.eng.Start(t.Context(), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ticks", func() bool { return f.eng.State().TotalTicks() >= 3 })
	f.eng.Stop()

	all := decode[[]events.Event](t, f.do(t, h, http.MethodGet, "/api/v1/events?limit=500", "", ""))
	if len(all) < 2 || all[0].Kind != events.KindStarted || all[len(all)-1].Kind != events.KindStopped {
		t.Fatalf("events = %+v", all)
	}

	two := decode[[]events.Event](t, f.do(t, h, http.MethodGet, "/api/v1/events?limit=2", "", ""))
	if len(two) != 2 || two[1].Kind != events.KindStopped {
		t.Errorf("limit=2 returned %+v", two)
	}

	started := decode[[]events.Event](t, f.do(t, h, http.MethodGet, "/api/v1/events?kind=STARTED", "", ""))
	if len(started) != 1 {
		t.Errorf("kind filter returned %d events", len(started))
	}
}

func TestEventsFallBackToDatabase(t *testing.T) {
	f := newFixture(t)
	db, err := persistence.Open(filepath.Join(t.TempDir(), "hive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	stored := []events.Event{
		events.New(events.KindStarted, 0, engine.DefaultEpoch, "first"),
		events.Colony(1, engine.DefaultEpoch, f.colony.ID(), "viability", "second"),
		events.New(events.KindStopped, 2, engine.DefaultEpoch, "third"),
	}
	if err := db.AppendEvents(stored); err != nil {
		t.Fatal(err)
	}
	f.srv.DB = db

	got := decode[[]events.Event](t, f.do(t, f.srv.Handler(), http.MethodGet, "/api/v1/events", "", ""))
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Message != want {
			t.Errorf("event %d = %q, want %q", i, got[i].Message, want)
		}
	}
}

func TestControlAuth(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		adminKey string
		token    string
		want     int
	}{
		{"disabled without key", "", testKey, http.StatusForbidden},
		{"missing token", testKey, "", http.StatusUnauthorized},
		{"wrong token", testKey, "nope", http.StatusUnauthorized},
		{"no transition", testKey, testKey, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.srv.AdminKey = tt.adminKey
			rec := f.do(t, f.srv.Handler(), http.MethodPost, "/api/v1/control", `{"action":"pause"}`, tt.token)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestControlLifecycle(t *testing.T) {
	f := newFixture(t)
	h := f.srv.Handler()

	if rec := f.do(t, h, http.MethodPost, "/api/v1/control", `{"action":"explode"}`, testKey); rec.Code != http.StatusBadRequest {
		t.Errorf("bad action code = %d", rec.Code)
	}
	if rec := f.do(t, h, http.MethodPost, "/api/v1/control", `{`, testKey); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json code = %d", rec.Code)
	}

	if err := f.eng.Start(t.Context(), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	for _, step := range []struct {
		action string
		status string
	}{
		{"pause", "paused"},
		{"resume", "running"},
		{"stop", "stopped"},
	} {
		rec := f.do(t, h, http.MethodPost, "/api/v1/control", `{"action":"`+step.action+`"}`, testKey)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s code = %d", step.action, rec.Code)
		}
		resp := decode[controlResponse](t, rec)
		if !resp.Changed || resp.Status != step.status {
			t.Errorf("%s = %+v, want status %s", step.action, resp, step.status)
		}
	}

	if rec := f.do(t, h, http.MethodPost, "/api/v1/control", `{"action":"resume"}`, testKey); rec.Code != http.StatusConflict {
		t.Errorf("resume while stopped code = %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, f.srv.Handler(), http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hivesim_engine_status") {
		t.Error("metrics output missing hivesim_engine_status")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/control", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("code = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/stream"
}

func TestStreamRelaysEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, "stream subscriber", func() bool { return f.eng.Bus().Subscribers() == 1 })

	if err := f.eng.Start(t.Context(), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer f.eng.Stop()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != events.KindStarted {
		t.Errorf("first streamed event = %s, want %s", ev.Kind, events.KindStarted)
	}
}

func TestStreamConnectionCap(t *testing.T) {
	f := newFixture(t)
	f.srv.MaxStreams = 1
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	waitFor(t, "first stream", func() bool { return f.srv.streams.Load() == 1 })

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil {
		t.Fatal("second stream accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second stream response = %v", resp)
	}
}

func TestStreamRateLimited(t *testing.T) {
	f := newFixture(t)
	f.srv.StreamRate = 1
	f.srv.StreamWindow = time.Hour
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil {
		t.Fatal("second stream accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second stream response = %v", resp)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}
