// Package api serves the demo operations as JSON over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"demoagent-server/internal/action"
	"demoagent-server/internal/browser"
	"demoagent-server/internal/conversation"
	"demoagent-server/internal/demo"
	"demoagent-server/internal/journal"
	"demoagent-server/internal/metrics"
	"demoagent-server/internal/orchestrator"
)

// maxBodyBytes bounds request bodies; chat histories are the largest payload.
const maxBodyBytes = 1 << 20

// Demo is the orchestrator surface the handlers drive.
type Demo interface {
	StartDemo(ctx context.Context, tag string) (orchestrator.Response, error)
	Interact(ctx context.Context, message string, history []conversation.Turn) (orchestrator.Response, error)
	StopDemo(ctx context.Context) error
}

// Handler serves the demo endpoints.
type Handler struct {
	demo           Demo
	journal        *journal.Journal
	metrics        *metrics.Metrics
	allowedOrigins []string
	logger         *zap.Logger
}

type Options struct {
	Journal        *journal.Journal
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHandler(demo Demo, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		demo:           demo,
		journal:        opts.Journal,
		metrics:        opts.Metrics,
		allowedOrigins: opts.AllowedOrigins,
		logger:         opts.Logger,
	}
}

// Router builds the chi router with middleware and routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(CORS(h.allowedOrigins))

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the demo endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start_demo", h.StartDemo)
	r.Post("/interact", h.Interact)
	r.Post("/stop_demo", h.StopDemo)
	r.Get("/journal", h.Journal)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
}

type startDemoRequest struct {
	DemoTag string `json:"demo_tag"`
}

type interactRequest struct {
	Message     string              `json:"message"`
	ChatHistory []conversation.Turn `json:"chat_history"`
}

type demoResponse struct {
	AIResponse        string `json:"ai_response"`
	CurrentScreenshot string `json:"current_screenshot"`
}

func toResponse(resp orchestrator.Response) demoResponse {
	return demoResponse{
		AIResponse:        resp.AIResponse,
		CurrentScreenshot: base64.StdEncoding.EncodeToString(resp.Screenshot),
	}
}

// StartDemo handles POST /start_demo. An empty body starts the default demo.
func (h *Handler) StartDemo(w http.ResponseWriter, r *http.Request) {
	var req startDemoRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.demo.StartDemo(detached(r), req.DemoTag)
	if err != nil {
		h.fail(w, "start_demo", err)
		return
	}
	JSON(w, http.StatusOK, toResponse(resp))
}

// Interact handles POST /interact.
func (h *Handler) Interact(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.demo.Interact(detached(r), req.Message, req.ChatHistory)
	if err != nil {
		h.fail(w, "interact", err)
		return
	}
	JSON(w, http.StatusOK, toResponse(resp))
}

// StopDemo handles POST /stop_demo.
func (h *Handler) StopDemo(w http.ResponseWriter, r *http.Request) {
	if err := h.demo.StopDemo(detached(r)); err != nil {
		h.fail(w, "stop_demo", err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Demo stopped and browser closed."})
}

// Journal handles GET /journal?predicate=... or ?query=...; with neither it
// returns every buffered fact.
func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	if !h.journal.Enabled() {
		Error(w, http.StatusNotFound, journal.ErrDisabled.Error())
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("query") != "":
		results, err := h.journal.Query(r.Context(), q.Get("query"))
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"results": results, "count": len(results)})
	case q.Get("predicate") != "":
		facts := h.journal.FactsByPredicate(q.Get("predicate"))
		JSON(w, http.StatusOK, map[string]interface{}{"facts": facts, "count": len(facts)})
	default:
		facts := h.journal.Facts()
		JSON(w, http.StatusOK, map[string]interface{}{
			"predicates": h.journal.Predicates(),
			"facts":      facts,
			"count":      len(facts),
		})
	}
}

// detached keeps the request's values but not its cancellation, so a client
// disconnect does not abort a browser action or decision call midway.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Info("request rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}
	Error(w, status, err.Error())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, demo.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, demo.ErrInvalidConfig),
		errors.Is(err, action.ErrInvalidURL),
		errors.Is(err, browser.ErrSessionNotStarted):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadJSON = errors.New("invalid JSON body")

// decodeBody decodes a JSON object into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errBadJSON
	}
	return nil
}

// JSON writes a JSON response. The body is encoded before the status is
// sent so an encoding failure still reports 500.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
		})
	}
}
