package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/storage"
)

const healthProbeKey = "assess:health"

// SessionCounter reports the number of open sessions.
type SessionCounter interface {
	Len() int
}

// SystemHandler serves the health check.
type SystemHandler struct {
	store     storage.Store
	sessions  SessionCounter
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(st storage.Store, sessions SessionCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		store:     st,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status       string `json:"status"`
	Store        string `json:"store"`
	Uptime       string `json:"uptime"`
	OpenSessions int    `json:"open_sessions"`
	Goroutines   int    `json:"goroutines"`
	GoVersion    string `json:"go_version"`
}

// Health godoc
// GET /health
// Reports whether the key/value store answers. The judge and backend are
// not probed; their failures surface per request.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{
		Status:       "ok",
		Store:        "ok",
		Uptime:       formatDuration(time.Since(h.startTime)),
		OpenSessions: h.sessions.Len(),
		Goroutines:   runtime.NumGoroutine(),
		GoVersion:    runtime.Version(),
	}

	if _, err := h.store.Get(ctx, healthProbeKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.log.Warn().Err(err).Msg("Store health probe failed")
		status.Status = "degraded"
		status.Store = "unreachable"
		response.Success(c, http.StatusServiceUnavailable, status)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
