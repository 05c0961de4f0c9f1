package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/config"
	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/logger"
	"github.com/wadjakorntonsri/go-shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

const (
	authCookieName  = "auth_token"
	requestIDHeader = "X-Request-ID"
)

type ownerKey struct{}

// WithOwner returns a copy of ctx carrying the authenticated user ID.
func WithOwner(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ownerKey{}, userID)
}

// OwnerFromContext returns the authenticated user ID, or nil when the
// request is unauthenticated.
func OwnerFromContext(ctx context.Context) *int64 {
	if id, ok := ctx.Value(ownerKey{}).(int64); ok {
		return &id
	}
	return nil
}

type Middleware struct {
	jwtSecret []byte
	users     ports.UserRepository
	log       *zap.Logger
}

// NewMiddleware builds the middleware set. users may be nil when auth is
// disabled.
func NewMiddleware(cfg *config.Config, users ports.UserRepository, log *zap.Logger) *Middleware {
	return &Middleware{
		jwtSecret: []byte(cfg.JWTSecret),
		users:     users,
		log:       log,
	}
}

// AuthMiddleware verifies the JWT cookie and scopes the request to the
// user named by its subject. The user must still exist.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.authenticate(r)
		if ok && m.users != nil {
			_, err := m.users.GetUser(r.Context(), userID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				logger.FromContext(r.Context()).Info("token for unknown user", zap.Int64("user_id", userID))
				ok = false
			case err != nil:
				writeError(w, r, domain.Internal(fmt.Errorf("load user %d: %w", userID, err)))
				return
			}
		}
		if !ok {
			if isAPIRequest(r) {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					StatusCode:  http.StatusUnauthorized,
					Message:     "Unauthorized",
					Description: "Sign in to manage shortlinks",
				})
			} else {
				http.Redirect(w, r, "/auth/google/login", http.StatusTemporaryRedirect)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), userID)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (int64, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return 0, false
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		logger.FromContext(r.Context()).Debug("rejected auth token", zap.Error(err))
		return 0, false
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger tags each request with an ID, stores a request logger in the
// context and records latency by route.
func (m *Middleware) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx, log := logger.WithRequestID(r.Context(), m.log, requestID)
		r = r.WithContext(ctx)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		// ServeMux fills in Pattern on the request it was handed
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())

		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

// Recoverer turns a handler panic into a 500 response.
func (m *Middleware) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.FromContext(r.Context()).Error("handler panic", zap.Any("panic", p), zap.Stack("stack"))
				writeJSON(w, http.StatusInternalServerError, errorResponse(domain.Internal(nil)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
