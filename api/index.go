package handler

import (
	"context"
	"net/http"

	"github.com/wadjakorntonsri/go-shortlink/pkg/app"
	"github.com/wadjakorntonsri/go-shortlink/pkg/config"
	"github.com/wadjakorntonsri/go-shortlink/pkg/logger"
)

var mux http.Handler

func init() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, "json")

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	// Note: On Vercel, db.sqlite is ephemeral unless using a remote SQL/Turso URL in DATABASE_URL
	application, err := app.New(cfg, log)
	if err != nil {
		panic(err)
	}

	// scans run for as long as the function instance stays warm
	application.Start(context.Background())
	mux = application.Handler
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}
