// Package app wires the store, cache, scanner and services behind the
// router. The server, the CLI and the serverless entry point share it.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/cache"
	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/scanner"
	"github.com/wadjakorntonsri/go-shortlink/pkg/config"
	"github.com/wadjakorntonsri/go-shortlink/pkg/core/services"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

type App struct {
	Config   *config.Config
	Repo     *sqlite.SQLiteRepository
	Scanner  *scanner.Scanner
	Links    *services.LinkService
	Resolver *services.RedirectService
	Handler  http.Handler

	redis *cache.RedisCache
	log   *zap.Logger
}

// New opens the store and builds every component. Call Start to run the
// scanner workers and Close to release resources.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	repo, err := sqlite.NewSQLiteRepository(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &App{Config: cfg, Repo: repo, log: log}

	// left as a nil interface when Redis is not configured
	var redirectCache ports.RedirectCache
	if cfg.RedisURL != "" {
		a.redis, err = cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL, log)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		redirectCache = a.redis
	}

	var scanOpts []scanner.Option
	var linkOpts []services.Option
	if redirectCache != nil {
		scanOpts = append(scanOpts, scanner.WithRedirectCache(redirectCache))
		linkOpts = append(linkOpts, services.WithRedirectCache(redirectCache))
	}

	a.Scanner = scanner.New(cfg.Scan, repo, log, scanOpts...)
	a.Links = services.NewLinkService(repo, a.Scanner, cfg.BaseURL, log, linkOpts...)
	a.Resolver = services.NewRedirectService(repo, redirectCache, log)
	a.Handler = handler.NewRouter(cfg, handler.Deps{
		Links:    a.Links,
		Resolver: a.Resolver,
		Store:    repo,
		Users:    repo,
		Scanner:  a.Scanner,
		Log:      log,
	})

	log.Info("application ready",
		zap.Bool("auth", cfg.AuthEnabled()),
		zap.Bool("scanning", cfg.ScanEnabled()),
		zap.Bool("redirect_cache", redirectCache != nil))
	return a, nil
}

func (a *App) Start(ctx context.Context) {
	a.Scanner.Start(ctx)
}

// Close stops the scanner before closing the stores it writes to.
func (a *App) Close() error {
	a.Scanner.Stop()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("closing redis", zap.Error(err))
		}
	}
	return a.Repo.Close()
}
