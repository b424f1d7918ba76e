package router

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/takedaservice/nasiya/merchant-core-go/internal/connectivity"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/debt"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/session"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level
// using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("gateway request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// RegisterRoutes mounts the local gateway the UI shell consumes. Protected
// debt views sit behind both authentication gates; the session routes are
// the gates themselves.
func RegisterRoutes(logger *zap.SugaredLogger, sessionHandler *session.Handler, debtHandler *debt.Handler, auth *session.Authority, monitor *connectivity.Monitor) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /nasiya-core/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /session", sessionHandler.State)
	mux.HandleFunc("POST /session/login", sessionHandler.Login)
	mux.HandleFunc("POST /session/logout", sessionHandler.Logout)
	mux.HandleFunc("POST /session/pin", sessionHandler.SetPin)
	mux.HandleFunc("POST /session/pin/verify", sessionHandler.VerifyPin)
	mux.HandleFunc("POST /session/pin/reset-attempts", sessionHandler.ResetPinAttempts)

	mux.HandleFunc("GET /connectivity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, monitor.State())
	})

	guard := gateMiddleware(auth)
	mux.Handle("GET /debtors", guard(http.HandlerFunc(debtHandler.ListDebtors)))
	mux.Handle("GET /debtors/{id}/debts", guard(http.HandlerFunc(debtHandler.ListDebts)))
	mux.Handle("POST /debtors/{id}/favorite", guard(http.HandlerFunc(debtHandler.ToggleFavorite)))
	mux.Handle("GET /calendar/{year}/{month}", guard(http.HandlerFunc(debtHandler.Calendar)))

	return LoggingMiddleware(logger)(mux)
}

// gateMiddleware refuses protected routes until both gates have been
// passed, in order: credentials first, then the PIN.
func gateMiddleware(auth *session.Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := auth.State()
			if !state.CredentialAuthenticated {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}
			if !state.PinAuthenticated {
				http.Error(w, `{"error":"pin required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
