package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jsonlined/jsonlined/internal/config"
	"github.com/jsonlined/jsonlined/internal/engine"
	"github.com/jsonlined/jsonlined/internal/metrics"
)

type appendResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Server is the HTTP surface over the append engine.
type Server struct {
	engine *engine.Engine
	cfg    *config.Config
	parser fastjson.ParserPool
	srv    *http.Server
}

func New(eng *engine.Engine, cfg *config.Config) *Server {
	return &Server{
		engine: eng,
		cfg:    cfg,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/append/", s.authMiddleware(http.HandlerFunc(s.handleAppend)))
	mux.HandleFunc("/health/", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start runs the HTTP server until Shutdown or a listen error.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.Handler(),
	}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// authMiddleware checks the bearer token against the configured bcrypt
// hash. Auth is disabled when no hash is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.TokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || token == authHeader {
			w.Header().Set("WWW-Authenticate", `Bearer realm="jsonlined"`)
			s.writeJSON(w, r, http.StatusUnauthorized, errorResponse{Detail: "Missing bearer token"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.TokenHash), []byte(token)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="jsonlined"`)
			s.writeJSON(w, r, http.StatusUnauthorized, errorResponse{Detail: "Invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleAppend decodes {"data": {...}} and hands the data object to the
// append engine. Validation failures are client errors and never reach
// the engine; an engine failure has already exhausted its retries.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{Detail: "Method not allowed"})
		return
	}

	reqID := uuid.NewString()
	w.Header().Set("X-Request-Id", reqID)

	body := io.Reader(r.Body)
	defer r.Body.Close()
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Detail: "Malformed gzip body"})
			return
		}
		defer gz.Close()
		body = gz
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		zap.S().Errorw("read body failed", "request_id", reqID, "error", err)
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Detail: "Failed to read body"})
		return
	}

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		s.writeJSON(w, r, http.StatusUnprocessableEntity, errorResponse{Detail: "Invalid JSON body"})
		return
	}

	data := v.Get("data")
	if data == nil {
		s.writeJSON(w, r, http.StatusUnprocessableEntity, errorResponse{Detail: "Missing required field: data"})
		return
	}
	if data.Type() != fastjson.TypeObject {
		s.writeJSON(w, r, http.StatusUnprocessableEntity, errorResponse{Detail: "Field data must be a JSON object"})
		return
	}

	ts, err := s.engine.Append(data.MarshalTo(nil))
	if err != nil {
		zap.S().Errorw("append failed", "request_id", reqID, "error", err)
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	s.writeJSON(w, r, http.StatusOK, appendResponse{
		Status:    "success",
		Message:   "Data appended successfully",
		Timestamp: ts,
	})
}

// handleHealth reports liveness. It deliberately never touches the log
// file or its lock, so it stays healthy while writers queue.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, payload any) {
	metrics.HTTPRequestsTotal.WithLabelValues(strconv.Itoa(code), r.Method).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.S().Errorf("JSON encode error: %v", err)
	}
}
