// Package health serves the liveness endpoint used by container probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"telebridge/internal/domain"
	"telebridge/internal/logging"
)

const storePingTimeout = 2 * time.Second

// StoreChecker is the settings store connectivity probe.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// BotState reports the bot connection state.
type BotState interface {
	State() domain.ConnectionState
}

// Handler answers GET /healthz. A failing store marks the service degraded;
// the bot state is informational.
type Handler struct {
	store  StoreChecker
	bot    BotState
	logger *logrus.Entry
}

type response struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Bot    string `json:"bot,omitempty"`
}

// NewHandler builds the health handler.
func NewHandler(store StoreChecker, bot BotState, logger *logrus.Entry) *Handler {
	return &Handler{
		store:  store,
		bot:    bot,
		logger: logging.OrDefault(logger),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}
	storeStatus := "ok"

	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if h.store == nil {
		storeStatus = "error"
		h.logger.WithField("event", "health_store_missing").Warn("store checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err := h.store.Ping(pingCtx)
		cancel()

		if err != nil {
			storeStatus = "error"
			h.logger.WithFields(logging.Fields{
				"event": "health_store_error",
			}).WithError(err).Warn("store ping failed during health check")
		}
	}

	if storeStatus != "ok" {
		resp.Status = "degraded"
		resp.Store = "error"
	}
	if h.bot != nil {
		resp.Bot = string(h.bot.State())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
