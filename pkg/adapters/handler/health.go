package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/logger"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the body of GET /healthz.
type HealthReport struct {
	Status    int     `json:"status"`
	AppState  string  `json:"appState"`
	DBState   string  `json:"dbState"`
	Scanner   string  `json:"scanner"`
	Uptime    float64 `json:"uptime"`
	Timestamp int64   `json:"timestamp"`
}

type HealthHandler struct {
	db      pinger
	scanner ports.URLScanner
	started time.Time
	now     func() time.Time
}

func NewHealthHandler(db pinger, scanner ports.URLScanner) *HealthHandler {
	return &HealthHandler{db: db, scanner: scanner, started: time.Now(), now: time.Now}
}

// Check answers 503 when the database cannot be reached.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	report := HealthReport{
		Status:    http.StatusOK,
		AppState:  "OK",
		DBState:   "connected",
		Scanner:   "disabled",
		Uptime:    now.Sub(h.started).Seconds(),
		Timestamp: now.UnixMilli(),
	}
	if h.scanner != nil && h.scanner.Enabled() {
		report.Scanner = "enabled"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		unavailable := domain.Unavailable(err)
		logger.FromContext(r.Context()).Error("health check: database unreachable", zap.Error(unavailable))
		report.Status = statusFor(unavailable.Kind)
		report.AppState = unavailable.Message
		report.DBState = "disconnected"
	}

	writeJSON(w, report.Status, report)
}
