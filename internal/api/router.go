package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wonny/charlie/backend/internal/api/handlers"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// RequestIDHeader carries the per-request id; an incoming value is kept
const RequestIDHeader = "X-Request-ID"

// NewRouter creates and configures the HTTP router.
// Every route is read-only; writes happen through the pipeline only.
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(samples *handlers.SampleHandler, runs *handlers.RunHandler, log *logger.Logger) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route for " + r.URL.Path})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "read-only API"})
	})

	r.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// 샘플 / 라벨 / 커버리지
	api.HandleFunc("/samples", samples.ListSamples).Methods(http.MethodGet)
	api.HandleFunc("/samples/{id:[0-9]+}", samples.GetSample).Methods(http.MethodGet)
	api.HandleFunc("/labels", samples.ListLabels).Methods(http.MethodGet)
	api.HandleFunc("/coverage", samples.GetCoverage).Methods(http.MethodGet)

	// run 이력 / 감사 로그
	api.HandleFunc("/runs", runs.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id:[0-9]+}", runs.GetRun).Methods(http.MethodGet)
	api.HandleFunc("/audit", runs.ListAudit).Methods(http.MethodGet)

	// 순서: request id → access log → recovery
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "charlie-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every request; 5xx at warn, the rest at debug
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			entry := log.WithFields(map[string]interface{}{
				"request_id": r.Header.Get(RequestIDHeader),
				"method":     r.Method,
				"path":       r.URL.Path,
				"query":      r.URL.RawQuery,
				"status":     rec.status,
				"duration":   time.Since(start).String(),
			})
			if rec.status >= http.StatusInternalServerError {
				entry.Warn("HTTP request failed")
				return
			}
			entry.Debug("HTTP request")
		})
	}
}

func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error":      err,
						"path":       r.URL.Path,
						"request_id": r.Header.Get(RequestIDHeader),
					}).Error("Panic recovered")

					writeJSON(w, http.StatusInternalServerError, map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
