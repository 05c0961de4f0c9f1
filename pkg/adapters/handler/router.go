package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/config"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Links    ports.LinkService
	Resolver ports.Resolver
	Store    ports.ShortLinkRepository
	Users    ports.UserRepository
	Scanner  ports.URLScanner
	Log      *zap.Logger
}

// NewRouter creates and configures the main application router. API routes
// require a session only when Google login is configured.
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	h := NewHTTPHandler(deps.Links, deps.Resolver)
	health := NewHealthHandler(deps.Store, deps.Scanner)
	mw := NewMiddleware(cfg, deps.Users, deps.Log)

	protect := func(fn http.HandlerFunc) http.Handler { return fn }
	if cfg.AuthEnabled() {
		protect = func(fn http.HandlerFunc) http.Handler { return mw.AuthMiddleware(fn) }
	}

	mux := http.NewServeMux()

	// Public Routes
	mux.HandleFunc("GET /healthz", health.Check)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{shortID}", h.Redirect)

	if cfg.AuthEnabled() {
		authHandler := NewAuthHandler(cfg, deps.Users)
		mux.HandleFunc("GET /auth/google/login", authHandler.Login)
		mux.HandleFunc("GET /auth/google/callback", authHandler.Callback)
		mux.HandleFunc("GET /auth/logout", authHandler.Logout)
	}

	// API Routes
	mux.Handle("POST /api/v1/shortlinks", protect(h.Create))
	mux.Handle("POST /api/v1/shortlinks/bulk", protect(h.CreateBulk))
	mux.Handle("GET /api/v1/shortlinks", protect(h.List))
	mux.Handle("GET /api/v1/shortlinks/{shortID}", protect(h.Get))
	mux.Handle("PATCH /api/v1/shortlinks/{shortID}", protect(h.Update))
	mux.Handle("DELETE /api/v1/shortlinks/{shortID}", protect(h.Delete))
	mux.Handle("GET /api/v1/shortlinks/{shortID}/qrcode", protect(h.QRCode))
	mux.HandleFunc("/api/", h.NotFound)

	return mw.RequestLogger(mw.Recoverer(mux))
}
