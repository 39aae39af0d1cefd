package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talgya/hive-sim/internal/keeper"
)

type simAPI struct {
	mu      sync.Mutex
	status  string
	actions []string
}

func (a *simAPI) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

func fakeSimAPI(t *testing.T, viable bool) (*httptest.Server, *simAPI) {
	t.Helper()
	a := &simAPI{status: "running"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		status := a.status
		a.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"status": status, "tick": 7, "sim_time": "2025-04-01 06:07"})
	})
	mux.HandleFunc("GET /api/v1/colonies", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{
			"id": "c1", "name": "Clover", "viable": viable, "honey": 20.0, "min_workers": 5,
			"kinds": map[string]int{"queen": 1, "worker": 30},
		}})
	})
	mux.HandleFunc("POST /api/v1/control", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct{ Action string }
		json.NewDecoder(r.Body).Decode(&req)

		a.mu.Lock()
		defer a.mu.Unlock()
		a.actions = append(a.actions, req.Action)
		changed := a.status == "running" && req.Action == "pause"
		if changed {
			a.status = "paused"
		} else {
			w.WriteHeader(http.StatusConflict)
		}
		json.NewEncoder(w).Encode(map[string]any{"action": req.Action, "changed": changed, "status": a.status})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, a
}

func TestCtlCmd(t *testing.T) {
	srv, api := fakeSimAPI(t, true)

	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"ctl", "pause", "--url", srv.URL, "--key", "k"})
	if err := root.Execute(); err != nil {
		t.Fatalf("ctl pause: %v", err)
	}
	if !strings.Contains(buf.String(), "now paused") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	root = newRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"ctl", "pause", "--url", srv.URL, "--key", "k", "--json"})
	if err := root.Execute(); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}
	var res keeper.ControlResult
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("ctl --json output not JSON: %v", err)
	}
	if res.Changed || res.Status != "paused" {
		t.Errorf("unexpected result %+v", res)
	}
	if got := api.Actions(); len(got) != 2 {
		t.Errorf("expected 2 control requests, got %v", got)
	}
}

func TestCtlCmdRejectsBadInput(t *testing.T) {
	t.Setenv("HIVESIM_ADMIN_KEY", "")
	for _, args := range [][]string{
		{"ctl", "explode", "--key", "k"},
		{"ctl"},
		{"ctl", "pause"},
	} {
		root := newRootCmd()
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs(args)
		if err := root.Execute(); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestRunKeeperPausesOnCritical(t *testing.T) {
	srv, api := fakeSimAPI(t, false)
	memPath := filepath.Join(t.TempDir(), "keeper.json")

	var out bytes.Buffer
	opts := keeperOptions{
		url:             srv.URL,
		key:             "k",
		interval:        time.Millisecond,
		pauseOnCritical: true,
		memoryPath:      memPath,
		cycles:          2,
		logLevel:        "error",
	}
	if err := runKeeper(context.Background(), opts, &out, io.Discard); err != nil {
		t.Fatalf("runKeeper: %v", err)
	}
	if got := api.Actions(); len(got) != 1 || got[0] != "pause" {
		t.Errorf("expected one pause, got %v", got)
	}
	if got := strings.Count(out.String(), "CRITICAL"); got != 2 {
		t.Errorf("expected 2 cycle lines, got %q", out.String())
	}

	mem, err := keeper.LoadMemory(memPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(mem.Records) != 2 || mem.Records[0].Action != keeper.ActionPause {
		t.Errorf("unexpected memory %+v", mem.Records)
	}
}

func TestRunKeeperNeedsKeyToPause(t *testing.T) {
	err := runKeeper(context.Background(), keeperOptions{url: "http://127.0.0.1:1", pauseOnCritical: true, interval: time.Second}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "admin key") {
		t.Errorf("expected admin key error, got %v", err)
	}
}
