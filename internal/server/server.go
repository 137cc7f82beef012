package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"soundvault/internal/app"
	"soundvault/internal/ratelimit"
	"soundvault/internal/tiering"
	"soundvault/internal/usertoken"
	"soundvault/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier

	// RedisAddr enables the fixed-window admission limiter on submissions;
	// empty disables rate limiting (single-instance and test runs).
	RedisAddr                string
	RedisPassword            string
	SubmitRateLimitPerMinute int
}

// Server exposes HTTP endpoints for the acquisition and delivery pipeline.
type Server struct {
	app           *app.App
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
	submitLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier is required")
	}
	var submitLimiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limit := cfg.SubmitRateLimitPerMinute
		if limit <= 0 {
			limit = 10
		}
		var err error
		submitLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "soundvault:ratelimit:submit", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init submit limiter: %w", err)
		}
	}
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
		submitLimiter: submitLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// acquisition (auth required)
	s.mux.Handle("/api/tracks", s.authenticated(s.handleTracks))
	s.mux.Handle("/api/tracks/", s.authenticated(s.handleTrackByID))

	// playback (public; assets are reachable by content id once shared)
	s.mux.HandleFunc("/api/audio/", s.handleAudio)
	s.mux.HandleFunc("/api/streams/", s.handleStreamURL)

	// maintenance
	s.mux.Handle("/api/admin/migrate", s.authenticated(s.handleMigrate))
	s.mux.Handle("/api/admin/reacquisition", s.authenticated(s.handleReacquisition))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ownerHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ownerID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, ownerID)
	})
}

// /api/tracks
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request, ownerID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r, ownerID)
	case http.MethodGet:
		s.handleListTracks(w, ownerID)
	default:
		methodNotAllowed(w)
	}
}

type submitRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, ownerID string) {
	if !s.allowRate(w, r, ownerID) {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	track, err := s.app.Submit(r.Context(), req.URL, ownerID)
	if err != nil {
		var dup *app.DuplicateError
		switch {
		case errors.As(err, &dup):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "track already submitted",
				"track": dup.Track,
			})
		case errors.Is(err, app.ErrInvalidURL):
			writeError(w, http.StatusBadRequest, "no valid content id in url")
		default:
			slog.Error("submit failed", "err", err)
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleListTracks(w http.ResponseWriter, ownerID string) {
	tracks, err := s.app.ListTracks(ownerID)
	if err != nil {
		slog.Error("list tracks failed", "err", err)
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": tracks,
		"count": len(tracks),
	})
}

// /api/tracks/{id} or /api/tracks/{id}/share
func (s *Server) handleTrackByID(w http.ResponseWriter, r *http.Request, ownerID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tracks/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "share" {
		s.handleShare(w, r, ownerID, id)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteTrack(r.Context(), id, ownerID); err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "track not found")
			return
		}
		slog.Error("delete track failed", "track", id, "err", err)
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type shareRequest struct {
	Shared *bool `json:"shared"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, ownerID, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	shared := true
	var req shareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err == nil && req.Shared != nil {
		shared = *req.Shared
	}
	track, err := s.app.ShareTrack(id, ownerID, shared)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "track not found")
			return
		}
		slog.Error("share track failed", "track", id, "err", err)
		writeError(w, http.StatusInternalServerError, "share failed")
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// /api/audio/{contentId} serves byte ranges through the tier chain and
// falls back to a redirect when no tier holds the asset.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	contentID := strings.TrimPrefix(r.URL.Path, "/api/audio/")
	if contentID == "" || strings.Contains(contentID, "/") {
		http.NotFound(w, r)
		return
	}
	track, reader, _, err := s.app.OpenAudio(r.Context(), contentID)
	switch {
	case err == nil:
		defer reader.Close()
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Accept-Ranges", "bytes")
		// ServeContent implements the Range semantics once for all tiers:
		// 206 with Content-Range on partial requests, open-ended ranges,
		// and 416 on unsatisfiable ones.
		http.ServeContent(w, r, track.StorageKey, track.UpdatedAt, reader)
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown content id")
	case errors.Is(err, app.ErrNotReady):
		writeError(w, http.StatusTooEarly, "track not ready")
	case errors.Is(err, tiering.ErrMiss):
		// Full miss: hand the client a live passthrough URL instead of
		// proxying bytes.
		streamURL, resolveErr := s.app.StreamURL(r.Context(), contentID)
		if resolveErr != nil {
			slog.Warn("live passthrough resolution failed", "content", contentID, "err", resolveErr)
			writeError(w, http.StatusNotFound, "asset unavailable")
			return
		}
		http.Redirect(w, r, streamURL, http.StatusFound)
	default:
		slog.Error("audio delivery failed", "content", contentID, "err", err)
		writeError(w, http.StatusInternalServerError, "delivery failed")
	}
}

// /api/streams/{contentId} resolves an ephemeral direct URL for preview
// playback without persistence, registered or not.
func (s *Server) handleStreamURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	contentID := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	if contentID == "" || strings.Contains(contentID, "/") {
		http.NotFound(w, r)
		return
	}
	streamURL, err := s.app.StreamURL(r.Context(), contentID)
	if err != nil {
		slog.Warn("stream url resolution failed", "content", contentID, "err", err)
		writeError(w, http.StatusNotFound, "resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"streamUrl": streamURL})
}

type migrateRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req migrateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := s.app.Migrate(r.Context(), req.Limit)
	if err != nil {
		slog.Error("migration failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReacquisition(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	status, err := s.app.ReacquisitionStatus(r.Context())
	if err != nil {
		slog.Error("reacquisition status failed", "err", err)
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, ownerID string) bool {
	key := ownerID
	if key == "" {
		key = util.ClientIP(r)
	}
	if s.submitLimiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many submissions")
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
