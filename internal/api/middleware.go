package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/metrics"
)

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Chain applies middleware so the first one listed runs first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// RequestID returns the id assigned by the RequestID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestID reuses the caller's X-Request-ID or assigns a new uuid.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	err    error
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// WithLogging logs every request and records HTTP metrics for service.
func WithLogging(service string, logger *logrus.Entry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			metrics.ObserveHTTP(service, route, rec.status, elapsed)

			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				return
			}
			entry := logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": elapsed.Milliseconds(),
				"request_id":  RequestID(r.Context()),
			})
			if rec.err == nil {
				entry.Info("request")
				return
			}

			entry = entry.WithError(rec.err)
			var typed *errors.Error
			if stderrors.As(rec.err, &typed) {
				for k, v := range typed.Context {
					entry = entry.WithField(k, v)
				}
			}
			switch {
			case rec.status < 500:
				entry.Info("request rejected")
			case errors.GetSeverity(rec.err) == errors.SeverityCritical:
				entry.Error("request failed")
			default:
				entry.Warn("request failed")
			}
			if typed != nil && rec.status >= 500 {
				logger.Debug(typed.DetailedString())
			}
		})
	}
}

// WithRecover turns a handler panic into a 500.
func WithRecover(logger *logrus.Entry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					logger.WithFields(logrus.Fields{
						"panic":      p,
						"request_id": RequestID(r.Context()),
					}).Error("handler panic")
					logger.Debug(string(debug.Stack()))
					WriteJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WithCORS allows the listed origins with credentials. "*" allows any
// origin without credentials. Preflight requests are answered with 204.
func WithCORS(origins []string, headers ...string) Middleware {
	allowHeaders := strings.Join(append([]string{"Accept", "Content-Type", "Authorization", RequestIDHeader}, headers...), ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed, wildcard := false, false
			for _, o := range origins {
				if o == "*" {
					allowed, wildcard = true, true
					break
				}
				if origin != "" && o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				if wildcard {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
