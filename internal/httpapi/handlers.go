package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"telebridge/internal/domain"
	"telebridge/internal/feature/transfer"
)

type tokenRequest struct {
	Token string `json:"token"`
}

type lockRequest struct {
	Locked *bool `json:"locked"`
}

type themeRequest struct {
	Theme string `json:"theme"`
}

type themeResponse struct {
	Theme domain.Theme `json:"theme"`
}

type addGroupRequest struct {
	ChatID string `json:"chat_id"`
}

type importResponse struct {
	Applied      []string `json:"applied"`
	Skipped      []string `json:"skipped"`
	ConnectError string   `json:"connect_error,omitempty"`
}

func (a *api) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *api) handleConnect(w http.ResponseWriter, r *http.Request) {
	if a.engine.Locked() {
		writeError(w, http.StatusLocked, msgLocked, kindLocked)
		return
	}

	var req tokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", kindInvalidRequest)
		return
	}

	if _, err := a.engine.Connect(r.Context(), req.Token); err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *api) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if a.engine.Locked() {
		writeError(w, http.StatusLocked, msgLocked, kindLocked)
		return
	}

	if err := a.engine.Disconnect(r.Context()); err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := decodeBody(w, r, &req); err != nil || req.Locked == nil {
		writeError(w, http.StatusBadRequest, "locked must be a boolean", kindInvalidRequest)
		return
	}

	if err := a.engine.SetLocked(r.Context(), *req.Locked); err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *api) handleGetTheme(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, themeResponse{Theme: a.engine.Theme()})
}

func (a *api) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", kindInvalidRequest)
		return
	}

	theme, ok := domain.ParseTheme(req.Theme)
	if !ok {
		writeError(w, http.StatusBadRequest, "theme must be light or dark", kindInvalidRequest)
		return
	}

	if err := a.engine.SetTheme(r.Context(), theme); err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, themeResponse{Theme: theme})
}

func (a *api) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := a.engine.OrderedView(r.URL.Query().Get("q"))
	if groups == nil {
		groups = []domain.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (a *api) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var req addGroupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", kindInvalidRequest)
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		writeError(w, http.StatusBadRequest, "chat_id is required", kindInvalidRequest)
		return
	}

	added, err := a.engine.AddGroup(r.Context(), req.ChatID)
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.Refresh(r.Context())
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) handleOpenGroup(w http.ResponseWriter, r *http.Request) {
	found, err := a.engine.Touch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	if !found {
		writeDomainError(w, a.logger, domain.ErrGroupNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	removed, err := a.engine.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	if !removed {
		writeDomainError(w, a.logger, domain.ErrGroupNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleInvite(w http.ResponseWriter, r *http.Request) {
	inv, err := a.invites.Generate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (a *api) handleInsights(w http.ResponseWriter, r *http.Request) {
	insight, err := a.invites.Insights(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func (a *api) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := a.transfer.Export(r.Context())
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+transfer.DefaultFileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImport overwrites the current configuration. The caller must pass
// confirm=true.
func (a *api) handleImport(w http.ResponseWriter, r *http.Request) {
	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirmed {
		writeError(w, http.StatusBadRequest, "import overwrites the current configuration; pass confirm=true", kindInvalidRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "configuration file is too large", kindInvalidRequest)
		return
	}

	result, err := a.transfer.Import(r.Context(), data)
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}

	resp := importResponse{Applied: result.Applied, Skipped: result.Skipped}
	if result.ConnectErr != nil {
		resp.ConnectError = result.ConnectErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
