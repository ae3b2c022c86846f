package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/ua/events"
	"github.com/sebas/softphone/internal/ua/phone"
	"github.com/sebas/softphone/internal/ua/session"
)

// Options configures optional parts of the API server.
type Options struct {
	NodeID string
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Bus serves /api/v1/events; nil disables the endpoint.
	Bus *events.Bus
}

// Server provides the HTTP status API of the softphone
type Server struct {
	addr       string
	httpServer *http.Server
	mux        *http.ServeMux
	phone      *phone.Phone
	opts       Options
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(addr string, p *phone.Phone, opts Options) *Server {
	s := &Server{
		addr:      addr,
		phone:     p,
		opts:      opts,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Dashboard
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/ui/partials/calls", s.handleCallsPartial)

	// Health
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	// Account and calls
	mux.HandleFunc("/api/v1/account", s.handleAccount)
	mux.HandleFunc("/api/v1/calls", s.handleCalls)
	mux.HandleFunc("/api/v1/calls/", s.handleCallByID)

	// Media
	mux.HandleFunc("/api/v1/devices", s.handleDevices)
	mux.HandleFunc("/api/v1/codecs", s.handleCodecs)
	mux.HandleFunc("/api/v1/codecs/", s.handleCodecPriority)

	if opts.Bus != nil {
		mux.HandleFunc("/api/v1/events", s.handleEvents)
	}
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.mux = mux
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	registered := false
	if rs := s.phone.Account(); rs != nil {
		registered = rs.State() == session.StateRegistered
	}
	s.writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "ok",
		Uptime:      int64(time.Since(s.startTime).Seconds()),
		NodeID:      s.opts.NodeID,
		Registered:  registered,
		ActiveCalls: s.phone.Directory().Len(),
	})
}

// --- Account & calls ---

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	rs := s.phone.Account()
	if rs == nil {
		s.writeError(w, http.StatusNotFound, "No account")
		return
	}
	resp := types.Account{ID: rs.ID(), State: rs.State().String()}
	cfg := rs.PlayerConfig()
	if cfg.Player != nil {
		resp.Player = cfg.Player.Filename
	}
	if cfg.Recorder != nil {
		resp.Recorder = cfg.Recorder.Filename
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	calls := make([]types.Call, 0)
	for _, cs := range s.phone.Directory().List() {
		calls = append(calls, toCall(cs))
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].CallID < calls[j].CallID })
	s.writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleCallByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract call ID from path: /api/v1/calls/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/calls/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "Call ID required")
		return
	}
	id, err := url.PathUnescape(path)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid call ID encoding")
		return
	}

	cs, ok := s.phone.Call(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toCall(cs))
}

func toCall(cs *session.CallSession) types.Call {
	info := cs.Info()
	direction := events.DirectionOutbound
	if cs.Incoming() {
		direction = events.DirectionInbound
	}
	return types.Call{
		CallID:         cs.ID(),
		Direction:      string(direction),
		State:          cs.State().String(),
		LocalURI:       info.LocalURI,
		RemoteURI:      info.RemoteURI,
		RemoteContact:  info.RemoteContact,
		LastStatusCode: cs.LastStatusCode(),
		LastReason:     info.LastReason,
		Duration:       int(info.ConnectDuration.Seconds()),
		Transmitting:   cs.Media().Transmitting(),
		Recording:      cs.Media().Recording(),
	}
}

// --- Media ---

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	devs, err := s.phone.AudioDevices()
	if err != nil {
		slog.Error("[API] Failed to list audio devices", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]types.Device, 0, len(devs))
	for _, d := range devs {
		resp = append(resp, types.Device{
			ID:                d.ID,
			Name:              d.Name,
			Driver:            d.Driver,
			InputCount:        d.InputCount,
			OutputCount:       d.OutputCount,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCodecs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	codecs, err := s.phone.Codecs()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]types.Codec, 0, len(codecs))
	for _, c := range codecs {
		resp = append(resp, types.Codec{ID: c.ID, Priority: c.Priority})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCodecPriority handles PUT /api/v1/codecs/{id}
func (s *Server) handleCodecPriority(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/v1/codecs/"))
	if err != nil || id == "" {
		s.writeError(w, http.StatusBadRequest, "Codec ID required")
		return
	}

	var req types.CodecPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	if err := s.phone.SetCodecPriority(id, req.Priority); err != nil {
		slog.Warn("[API] Codec priority rejected", "codec", id, "priority", req.Priority, "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, types.Codec{ID: id, Priority: req.Priority})
}

// --- Events ---

// handleEvents returns recent events: GET /api/v1/events?pattern=...&limit=N
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = events.PatternAll
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	recent := s.opts.Bus.Recent(pattern, limit)
	if recent == nil {
		recent = []*events.Event{}
	}
	s.writeJSON(w, http.StatusOK, recent)
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
