// Package api exposes the funnel engine over HTTP for web clients and
// operator dashboards.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/delivery"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/logger"
	"github.com/edgard/funnelbot/internal/queue"
)

// maxBodyBytes bounds request bodies; audio turns are base64 encoded.
const maxBodyBytes = 12 << 20

// Deps are the collaborators of the API.
type Deps struct {
	Engine   *engine.Engine
	Store    database.Store
	Queue    *queue.Queue
	Delivery *delivery.Scheduler
	Logger   *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	engine   *engine.Engine
	store    database.Store
	queue    *queue.Queue
	delivery *delivery.Scheduler
	httpCfg  config.HTTPConfig
	realtime config.RealtimeConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the API handler.
func NewHandler(deps Deps, httpCfg config.HTTPConfig, realtimeCfg config.RealtimeConfig) *Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		engine:   deps.Engine,
		store:    deps.Store,
		queue:    deps.Queue,
		delivery: deps.Delivery,
		httpCfg:  httpCfg,
		realtime: realtimeCfg,
		logger:   log.With("component", "http_api"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Router builds the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(logger.HTTPMiddleware(h.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS(h.httpCfg.AllowedOrigins))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireToken)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Get("/messages", h.ListMessages)
				r.Post("/turns", h.ProcessTurn)
				r.Post("/operator", h.InjectOperatorMessage)
				r.Put("/status", h.SetStatus)
				r.Get("/stream", h.Stream)
			})
		})

		r.Get("/media", h.ListMedia)
		r.Post("/media", h.SaveMedia)
	})

	return r
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "Health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireToken enforces the bearer token when one is configured. Browsers
// cannot set headers on websocket upgrades, so a token query parameter is
// accepted too.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	if h.httpCfg.APIToken == "" {
		return next
	}
	want := []byte(h.httpCfg.APIToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.httpCfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, database.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, engine.ErrEmptyInput):
		Error(w, http.StatusBadRequest, "text or audio is required")
	case errors.Is(err, engine.ErrInvalidAudio), errors.Is(err, engine.ErrInvalidStatus):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		Error(w, http.StatusTooManyRequests, "too many pending turns for this session")
	case errors.Is(err, queue.ErrStopped):
		Error(w, http.StatusServiceUnavailable, "shutting down")
	default:
		h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path,
			"request_id", chiMiddleware.GetReqID(r.Context()), "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
