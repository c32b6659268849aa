package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/dogwood/dashboard-client/internal/model/session"
	dashboardService "github.com/dogwood/dashboard-client/internal/service/dashboard"
	"github.com/dogwood/dashboard-client/internal/service/gate"
	"github.com/dogwood/dashboard-client/pkg/utils"
)

// Fetcher loads the protected dashboard payload.
type Fetcher interface {
	Fetch(ctx context.Context) (dashboardService.Snapshot, error)
}

// SessionReader exposes the signed-in profile.
type SessionReader interface {
	Get() (model.Session, bool)
}

// Handler 仪表盘视图处理器
type Handler struct {
	fetcher  Fetcher
	sessions SessionReader
}

// New 创建仪表盘处理器
func New(fetcher Fetcher, sessions SessionReader) *Handler {
	return &Handler{fetcher: fetcher, sessions: sessions}
}

// RegisterRoutes 注册 /dashboard 数据接口
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/dashboard", h.handleData)
}

type pageView struct {
	User    *model.Profile  `json:"user,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

// HandlePage 渲染仪表盘视图；后端数据不可用时仍返回页面并附带警告
func (h *Handler) HandlePage(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.sessions.Get()
	view := pageView{User: sess.IssuedTo}

	snap, err := h.fetcher.Fetch(r.Context())
	switch {
	case errors.Is(err, dashboardService.ErrUnauthorized):
		http.Redirect(w, r, gate.Evaluate("", r.URL.RequestURI()).LoginURL(), http.StatusFound)
		return
	case err != nil:
		log.Printf("[dashboard] fetch failed: %v", err)
		view.Warning = "dashboard data is temporarily unavailable"
	case json.Valid(snap.Body):
		view.Data = snap.Body
	default:
		view.Warning = "dashboard data is not JSON"
	}

	utils.RespondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleData(w http.ResponseWriter, r *http.Request) {
	snap, err := h.fetcher.Fetch(r.Context())
	switch {
	case errors.Is(err, dashboardService.ErrUnauthorized):
		utils.RespondJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "session expired",
			"redirect": gate.Evaluate("", r.URL.RequestURI()).LoginURL(),
		})
		return
	case errors.Is(err, dashboardService.ErrStaleToken):
		utils.RespondError(w, http.StatusConflict, "session changed, please retry")
		return
	case err != nil:
		log.Printf("[dashboard] fetch failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "dashboard data is temporarily unavailable")
		return
	}

	contentType := snap.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(snap.Body); err != nil {
		log.Printf("[dashboard] write failed: %v", err)
	}
}
