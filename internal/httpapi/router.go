// Package httpapi exposes the bot settings, group collection, invite flow and
// configuration transfer over a JSON API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"telebridge/internal/domain"
	"telebridge/internal/feature/group"
	"telebridge/internal/feature/invite"
	"telebridge/internal/feature/transfer"
	"telebridge/internal/logging"
)

// maxBodyBytes caps request bodies, including imported documents.
const maxBodyBytes = 1 << 20

// Engine is the group engine surface the API drives.
type Engine interface {
	Status() group.Status
	Connect(ctx context.Context, token string) (domain.BotInfo, error)
	Disconnect(ctx context.Context) error
	Locked() bool
	SetLocked(ctx context.Context, locked bool) error
	Theme() domain.Theme
	SetTheme(ctx context.Context, theme domain.Theme) error
	OrderedView(query string) []domain.Group
	AddGroup(ctx context.Context, chatID string) (domain.Group, error)
	Refresh(ctx context.Context) (group.RefreshReport, error)
	Touch(ctx context.Context, groupID string) (bool, error)
	Remove(ctx context.Context, groupID string) (bool, error)
}

// Invites generates invite links and insights.
type Invites interface {
	Generate(ctx context.Context, groupID string) (invite.Invite, error)
	Insights(ctx context.Context, groupID string) (domain.Insight, error)
}

// Transfer exports and imports the configuration document.
type Transfer interface {
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) (transfer.Result, error)
}

// Deps are the collaborators mounted by NewRouter. Health and Metrics are
// optional.
type Deps struct {
	Engine   Engine
	Invites  Invites
	Transfer Transfer
	Health   http.Handler
	Metrics  http.Handler
	Logger   *logrus.Entry
}

type api struct {
	engine   Engine
	invites  Invites
	transfer Transfer
	logger   *logrus.Entry
}

// NewRouter builds the chi mux with all routes wired.
func NewRouter(deps Deps) http.Handler {
	a := &api{
		engine:   deps.Engine,
		invites:  deps.Invites,
		transfer: deps.Transfer,
		logger:   logging.OrDefault(deps.Logger).WithField("component", "httpapi"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	if deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", deps.Health)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)

		r.Put("/bot", a.handleConnect)
		r.Delete("/bot", a.handleDisconnect)
		r.Put("/bot/lock", a.handleLock)

		r.Get("/theme", a.handleGetTheme)
		r.Put("/theme", a.handleSetTheme)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", a.handleListGroups)
			r.Post("/", a.handleAddGroup)
			r.Post("/refresh", a.handleRefresh)
			r.Post("/{id}/open", a.handleOpenGroup)
			r.Delete("/{id}", a.handleRemoveGroup)
			r.Post("/{id}/invite", a.handleInvite)
			r.Get("/{id}/insights", a.handleInsights)
		})

		r.Get("/config/export", a.handleExport)
		r.Post("/config/import", a.handleImport)
	})

	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		a.logger.WithFields(logging.Fields{
			"event":       "http_request",
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("handled request")
	})
}
