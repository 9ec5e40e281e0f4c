package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/oklog/ulid/v2"
)

// MaxRequestBytes bounds the size of a sync request body.
const MaxRequestBytes = 64 << 20

// Authenticator checks the username and password of a sync request.
type Authenticator interface {
	Authenticate(username, password string) error
}

// DeckResolver opens a user's deck by name.
type DeckResolver interface {
	GetDeck(ctx context.Context, user, name string) (*multistore.ManagedDeck, error)
}

// RequestIDMiddleware assigns every request a ULID request id, keeping one
// supplied in X-Request-Id. The id is available through
// middleware.GetReqID and echoed in the response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LimitBody caps request bodies at n bytes.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// CredentialsMiddleware authenticates the form fields u and p.
// Returns 401 RFC 7807 Problem Details on auth failure.
// MUST NOT include the password in logs or responses.
func CredentialsMiddleware(users Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !parseForm(w, r) {
				return
			}
			user := r.PostForm.Get("u")
			if err := users.Authenticate(user, r.PostForm.Get("p")); err != nil {
				slog.Warn("auth failure",
					"path", r.URL.Path,
					"user", user,
					"remote_ip", r.RemoteAddr,
				)
				WriteProblem(w, r, http.StatusUnauthorized, "Invalid username or password")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// DeckMiddleware resolves the form field d to the authenticated user's deck.
// Must run after CredentialsMiddleware.
func DeckMiddleware(decks DeckResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := decks.GetDeck(r.Context(), UserFromContext(r.Context()), r.PostForm.Get("d"))
			if err != nil {
				MapSyncError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithDeck(r.Context(), d)))
		})
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware catches panics and returns 500 Problem Details.
// Panic details are logged but never exposed to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
