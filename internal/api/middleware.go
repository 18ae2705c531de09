package api

import (
	"net/http"

	"github.com/google/uuid"

	"mb-go/internal/scan"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns every request an ID, honoring one supplied by
// the client.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware converts panics into a 500 response instead of tearing
// down the connection.
func recoverMiddleware(logger scan.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
					writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware records method, path and status for every request.
func loggingMiddleware(logger scan.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", sw.status)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
