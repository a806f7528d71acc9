package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/artemshal/DungeonCompanion/internal/character"
	"github.com/artemshal/DungeonCompanion/internal/config"
	"github.com/artemshal/DungeonCompanion/internal/logger"
	"github.com/artemshal/DungeonCompanion/internal/output"
	"github.com/artemshal/DungeonCompanion/internal/pipeline"
	"github.com/artemshal/DungeonCompanion/internal/vcam"
)

// Version is reported by /api/health
var Version = "0.1.0"

// Server is the control and status API
type Server struct {
	router     *mux.Router
	configMgr  *config.Manager
	camera     *output.VirtualCameraOutput
	characters *character.Service
	preview    *output.MJPEGOutput
	frames     *pipeline.Pipeline
	upgrader   websocket.Upgrader

	// StatusInterval is how often /api/output/events pushes status while
	// nothing changes
	StatusInterval time.Duration

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	httpMu  sync.Mutex
	httpSrv *http.Server
}

// NewServer creates the API server. characters, preview and frames may be
// nil; their endpoints then report 503.
func NewServer(configMgr *config.Manager, camera *output.VirtualCameraOutput, characters *character.Service, preview *output.MJPEGOutput, frames *pipeline.Pipeline) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		configMgr:  configMgr,
		camera:     camera,
		characters: characters,
		preview:    preview,
		frames:     frames,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		StatusInterval: time.Second,
		subs:           make(map[chan struct{}]struct{}),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Virtual camera
	api.HandleFunc("/output/status", s.handleOutputStatus).Methods("GET")
	api.HandleFunc("/output/start", s.handleOutputStart).Methods("POST")
	api.HandleFunc("/output/stop", s.handleOutputStop).Methods("POST")
	api.HandleFunc("/output/events", s.handleOutputEvents)

	// Character
	api.HandleFunc("/character", s.handleGetCharacter).Methods("GET")
	api.HandleFunc("/character/reload", s.handleReloadCharacter).Methods("POST")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	if s.preview != nil {
		s.router.HandleFunc("/stream", s.preview.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/", s.preview.GetViewerHandler()).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start listens on port until Shutdown is called
func (s *Server) Start(port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpMu.Lock()
	s.httpSrv = srv
	s.httpMu.Unlock()

	logger.WithComponent("api").Info().Str("addr", srv.Addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	srv := s.httpSrv
	s.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// notify wakes every event stream
func (s *Server) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Server) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan struct{}) {
	s.subsMu.Lock()
	delete(s.subs, ch)
	s.subsMu.Unlock()
}

// HTTP Handlers

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed on %s", r.Method, r.URL.Path))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// OutputStatus is the body of GET /api/output/status
type OutputStatus struct {
	Camera   vcam.Status        `json:"camera"`
	Preview  *output.MJPEGStats `json:"preview,omitempty"`
	Pipeline *pipeline.Stats    `json:"pipeline,omitempty"`
	Config   output.Config      `json:"config"`
}

func (s *Server) handleOutputStatus(w http.ResponseWriter, r *http.Request) {
	st := OutputStatus{
		Camera: s.camera.Status(),
		Config: s.camera.Config(),
	}
	if s.preview != nil {
		ps := s.preview.Stats()
		st.Preview = &ps
	}
	if s.frames != nil {
		fs := s.frames.Stats()
		st.Pipeline = &fs
	}
	writeJSON(w, http.StatusOK, st)
}

// startRequest optionally overrides the configured geometry
type startRequest struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

func (s *Server) handleOutputStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := s.camera.Config()
	if len(body) > 0 {
		var req startRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Width != 0 || req.Height != 0 {
			cfg.Width, cfg.Height = req.Width, req.Height
		}
		if req.FPS != 0 {
			cfg.FPS = req.FPS
		}
	}

	// Frames are not scaled, so the camera runs at the capture size
	if s.frames != nil {
		width, height := s.frames.Size()
		if cfg.Width != width || abs(cfg.Height) != height {
			err := fmt.Errorf("%w: %dx%d does not match the %dx%d capture", vcam.ErrInvalidGeometry, cfg.Width, cfg.Height, width, height)
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.camera.StartWith(cfg); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, vcam.ErrDriverNotFound):
			status = http.StatusServiceUnavailable
			err = errors.New(vcam.DriverMissingMessage)
		case errors.Is(err, vcam.ErrInvalidGeometry):
			status = http.StatusBadRequest
		}
		logger.WithComponent("api").Error().Err(err).Msg("Virtual camera start failed")
		writeError(w, status, err)
		return
	}

	s.notify()
	writeJSON(w, http.StatusOK, s.camera.Status())
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Server) handleOutputStop(w http.ResponseWriter, r *http.Request) {
	if err := s.camera.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.notify()
	writeJSON(w, http.StatusOK, s.camera.Status())
}

// handleOutputEvents streams vcam.Status as JSON text messages: once on
// connect, after every start or stop, and every StatusInterval
func (s *Server) handleOutputEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.subscribe()
	defer s.unsubscribe(updates)

	// The read side only watches for the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := s.StatusInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.camera.Status()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-updates:
		case <-ticker.C:
		}
	}
}

// CharacterResponse is the body of GET /api/character
type CharacterResponse struct {
	character.Summary
	UpdatedAt   time.Time `json:"updated_at"`
	HasPortrait bool      `json:"has_portrait"`
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	if s.characters == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("character service disabled"))
		return
	}
	snap := s.characters.Snapshot()
	if snap.Character == nil {
		writeError(w, http.StatusNotFound, errors.New("no character loaded"))
		return
	}
	writeJSON(w, http.StatusOK, CharacterResponse{
		Summary:     snap.Character.Summary(),
		UpdatedAt:   snap.UpdatedAt,
		HasPortrait: snap.Portrait != nil,
	})
}

// reloadRequest selects a character; an empty id reloads the configured one
type reloadRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleReloadCharacter(w http.ResponseWriter, r *http.Request) {
	if s.characters == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("character service disabled"))
		return
	}

	var req reloadRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	cfg := s.configMgr.Get()
	raw := req.ID
	if raw == "" {
		raw = cfg.Character.ID
	}
	id, err := character.ParseID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.characters.Reload(r.Context(), id); err != nil {
		logger.WithComponent("api").Error().Err(err).Int("id", id).Msg("Character reload failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	if cfg.Character.ID != strconv.Itoa(id) {
		cfg.Character.ID = strconv.Itoa(id)
		if err := s.configMgr.Update(cfg); err != nil {
			logger.WithComponent("api").Warn().Err(err).Msg("Failed to save character id")
		}
	}

	s.handleGetCharacter(w, r)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.configMgr.Update(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
