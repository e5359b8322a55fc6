package remote

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

const (
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// ServerOptions configures a gateway.
type ServerOptions struct {
	// Token, when set, must be presented as a bearer token or in the
	// realtime auth message
	Token string

	Logger *slog.Logger
}

// Server exposes a driver over HTTP.
type Server struct {
	drv    driver.Driver
	token  string
	logger *slog.Logger
}

// NewServer creates a gateway serving drv.
func NewServer(drv driver.Driver, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{drv: drv, token: opts.Token, logger: logger.With("component", "gateway")}
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers the gateway routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+documentPrefix+"{path...}", s.wrap(s.handleGet))
	mux.HandleFunc("POST "+queryPath, s.wrap(maxBodySize(s.handleQuery, DefaultMaxBodySize)))
	mux.HandleFunc("POST "+countPath, s.wrap(maxBodySize(s.handleCount, DefaultMaxBodySize)))
	mux.HandleFunc("POST "+writePath, s.wrap(maxBodySize(s.handleWrite, DefaultMaxBodySize)))
	mux.HandleFunc("POST "+commitPath, s.wrap(maxBodySize(s.handleCommit, DefaultMaxBodySize)))
	mux.HandleFunc("GET "+realtimePath, withRequestID(s.handleRealtime))
	mux.HandleFunc("GET "+healthPath, withRequestID(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
}

func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return withRequestID(s.withRecover(withTimeout(s.protected(next), DefaultRequestTimeout)))
}

func (s *Server) checkToken(token string) bool {
	if s.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !s.checkToken(token) {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "document path required")
		return
	}
	ref, err := model.NewRef(path[:i], path[i+1:])
	if err != nil {
		s.writeDriverError(w, r, err)
		return
	}
	doc, err := s.drv.FetchOne(r.Context(), ref)
	if err != nil {
		s.writeDriverError(w, r, err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	s.logger.Debug("Query", "request", body.Request.String(), "request_id", getRequestID(r.Context()))
	docs, err := driver.Fetch(r.Context(), s.drv, body.Request)
	if err != nil {
		s.writeDriverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Documents: docs})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	n, err := s.drv.Count(r.Context(), body.Request.Scope, body.Request.Queries)
	if err != nil {
		s.writeDriverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var body WriteRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.drv.Write(r.Context(), body.Ops...); err != nil {
		s.writeDriverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommit applies the ops in a transaction that first checks every
// read version. A changed document fails the commit with a conflict and the
// client retries.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var body CommitRequest
	if !decodeBody(w, r, &body) {
		return
	}
	err := s.drv.RunTransaction(r.Context(), func(ctx context.Context, tx driver.Tx) error {
		for _, read := range body.Reads {
			doc, err := tx.Get(ctx, read.Ref)
			if err != nil {
				return err
			}
			var version int64
			if doc != nil {
				version = doc.Version
			}
			if version != read.Version {
				return errStaleRead
			}
		}
		return tx.Write(body.Ops...)
	})
	if err != nil {
		s.writeDriverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDriverError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err, "request_id", getRequestID(r.Context()))
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, describe(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeError writes a structured JSON error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		next(w, r.WithContext(ctx))
	}
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

func (s *Server) withRecover(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
					"stack", string(debug.Stack()),
					"request_id", getRequestID(r.Context()),
				)
				writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
			}
		}()
		next(w, r)
	}
}

func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}
