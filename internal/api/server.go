// Package api provides the HTTP API for observing the hive simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/talgya/hive-sim/internal/colony"
	"github.com/talgya/hive-sim/internal/engine"
	"github.com/talgya/hive-sim/internal/events"
	"github.com/talgya/hive-sim/internal/observability"
	"github.com/talgya/hive-sim/internal/persistence"
)

const (
	// DefaultMaxStreams caps concurrent websocket relays.
	DefaultMaxStreams = 8

	defaultEventLimit = 50
	maxEventLimit     = 500
	streamCatchUp     = 50
	streamBuffer      = 256

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Server serves the simulation over HTTP.
type Server struct {
	Eng      *engine.Engine
	DB       *persistence.DB     // Optional; backs /events when the in-memory ring is empty.
	Gatherer prometheus.Gatherer // Nil = prometheus.DefaultGatherer.
	Addr     string
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	Logger   *slog.Logger

	MaxStreams   int // Zero = DefaultMaxStreams.
	StreamRate   int // Stream connections per IP per StreamWindow. Zero = 10.
	StreamWindow time.Duration

	streams atomic.Int32
	limiter *RateLimiter
	srv     *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowedOrigins()[origin]
	},
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Handler builds the route table. The stream rate limiter is shared across calls.
func (s *Server) Handler() http.Handler {
	rate, window := s.StreamRate, s.StreamWindow
	if rate <= 0 {
		rate = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(rate, window)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/colonies", s.handleColonies)
	mux.HandleFunc("GET /api/v1/colonies/{id}", s.handleColonyDetail)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.Handle("GET /metrics", observability.Handler(s.Gatherer))

	// Live event relay (websocket, rate limited per IP).
	mux.HandleFunc("GET /api/v1/stream", RateLimitMiddleware(s.limiter, s.handleStream))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/control", s.adminOnly(s.handleControl))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger().Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger().Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// allowedOrigins lists CORS origins. Set HIVESIM_CORS_ORIGINS to a
// comma-separated list to add to the localhost dev servers.
func allowedOrigins() map[string]bool {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("HIVESIM_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowed[origin] = true
			}
		}
	}
	return allowed
}

// corsMiddleware adds CORS headers for allowed frontend origins.
func corsMiddleware(next http.Handler) http.Handler {
	allowed := allowedOrigins()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no HIVESIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Eng.State()
	clock := s.Eng.Clock()
	now := clock.CurrentTime()

	status := map[string]any{
		"name":        "hive-sim",
		"status":      st.Status().String(),
		"tick":        clock.CurrentTick(),
		"total_ticks": st.TotalTicks(),
		"sim_time":    engine.SimTime(now),
		"colonies":    len(st.Colonies()),
		"viable":      st.ViableCount(),
		"living":      st.TotalLiving(),
		"kinds":       st.KindCounts(),
		"streams":     s.streams.Load(),
	}
	if last := st.LastSave(); !last.IsZero() {
		status["last_save"] = last
	}
	if env := st.Environment(); env != nil {
		c := env.Conditions()
		status["weather"] = map[string]any{
			"season":      c.Season.String(),
			"temp_c":      c.TempC,
			"nectar_flow": c.NectarFlow,
			"daylight":    c.Daylight,
			"raining":     c.Raining,
			"description": c.Description,
			"can_forage":  c.CanForage(),
		}
	}
	writeJSON(w, status)
}

type colonySummary struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Viable     bool           `json:"viable"`
	Living     int            `json:"living"`
	Honey      float64        `json:"honey"`
	Brood      int            `json:"brood"`
	Born       uint64         `json:"born"`
	Died       uint64         `json:"died"`
	MinWorkers int            `json:"min_workers"`
	Kinds      map[string]int `json:"kinds"`
}

func (s *Server) handleColonies(w http.ResponseWriter, r *http.Request) {
	snap := s.Eng.State().Snapshot()
	out := make([]colonySummary, 0, len(snap.Colonies))
	for _, c := range snap.Colonies {
		out = append(out, colonySummary{
			ID:         c.ID,
			Name:       c.Name,
			Viable:     c.Viable,
			Living:     c.Living,
			Honey:      c.Honey,
			Brood:      len(c.Brood),
			Born:       c.Born,
			Died:       c.Died,
			MinWorkers: c.MinWorkers,
			Kinds:      c.Kinds,
		})
	}
	writeJSON(w, out)
}

// handleColonyDetail returns one colony with its full bee roster.
func (s *Server) handleColonyDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap := s.Eng.State().Snapshot()
	i := slices.IndexFunc(snap.Colonies, func(c colony.Snapshot) bool { return c.ID == id })
	if i < 0 {
		http.Error(w, "colony not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap.Colonies[i])
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxEventLimit {
			limit = n
		}
	}

	// Filters apply before the limit, so fetch the whole ring when filtering.
	fetch := limit
	colonyID, kind := q.Get("colony"), q.Get("kind")
	if colonyID != "" || kind != "" {
		fetch = 0
	}

	evs := s.Eng.State().RecentEvents(fetch)
	if len(evs) == 0 && s.DB != nil {
		stored, err := s.DB.RecentEvents(maxEventLimit)
		if err != nil {
			s.logger().Warn("event log read failed", "error", err)
		} else {
			// Stored events come newest first.
			slices.Reverse(stored)
			evs = stored
		}
	}

	if colonyID != "" || kind != "" {
		evs = slices.DeleteFunc(evs, func(e events.Event) bool {
			return (colonyID != "" && e.ColonyID != colonyID) || (kind != "" && string(e.Kind) != kind)
		})
	}
	if len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, evs)
}

type controlRequest struct {
	Action string `json:"action"`
}

type controlResponse struct {
	Action  string `json:"action"`
	Changed bool   `json:"changed"`
	Status  string `json:"status"`
}

// handleControl drives the engine lifecycle. A valid action that does not
// change the status answers 409 with the current status.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var changed bool
	switch req.Action {
	case "pause":
		changed = s.Eng.Pause()
	case "resume":
		changed = s.Eng.Resume()
	case "stop":
		changed = s.Eng.Stop()
	default:
		http.Error(w, "action must be pause, resume or stop", http.StatusBadRequest)
		return
	}
	s.logger().Info("control action", "action", req.Action, "changed", changed, "status", s.Eng.Status().String())

	resp := controlResponse{Action: req.Action, Changed: changed, Status: s.Eng.Status().String()}
	if !changed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(resp)
		return
	}
	writeJSON(w, resp)
}

// handleStream upgrades to a websocket and relays engine events as JSON
// text frames. Recent events are replayed first. A client that falls more
// than streamBuffer events behind loses the overflow.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	limit := s.MaxStreams
	if limit <= 0 {
		limit = DefaultMaxStreams
	}
	if s.streams.Add(1) > int32(limit) {
		s.streams.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streams.Add(-1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The channel is never closed: events queued before unsubscribe may
	// still be delivered after this handler returns.
	ch := make(chan events.Event, streamBuffer)
	var dropped atomic.Int64
	ip := clientIP(r)
	unsub := s.Eng.Subscribe("stream:"+ip, func(ev events.Event) {
		select {
		case ch <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer unsub()

	go s.readPump(conn, cancel)

	s.logger().Info("stream client connected", "ip", ip)
	defer func() {
		s.logger().Info("stream client disconnected", "ip", ip, "dropped", dropped.Load())
	}()

	for _, ev := range s.Eng.State().RecentEvents(streamCatchUp) {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-ch:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return
		}
	}
}

// readPump discards client messages and cancels when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger().Debug("stream read error", "error", err)
			}
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
