package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/middleware"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/notify"
	"github.com/anguillanneuf/BizTrack/internal/query"
	"github.com/gin-gonic/gin"
)

// DashboardQuerier defines the read-side operations used by DashboardHandler.
type DashboardQuerier interface {
	Get(context.Context, cqrs.DashboardQuery) (*models.DashboardView, error)
	Watch(ctx context.Context, viewerID string) <-chan query.LiveView[*models.DashboardView]
}

type SummaryQuerier interface {
	GetSummary(context.Context, cqrs.SummaryQuery) (*models.LedgerSummaryView, error)
}

// NotificationSource streams a viewer's toasts.
type NotificationSource interface {
	Subscribe(ctx context.Context, userID string) <-chan notify.Toast
}

type DashboardHandler struct {
	dashboard     DashboardQuerier
	summaries     SummaryQuerier
	notifications NotificationSource
}

func NewDashboardHandler(dashboard DashboardQuerier, summaries SummaryQuerier, notifications NotificationSource) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, summaries: summaries, notifications: notifications}
}

func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	view, err := h.dashboard.Get(c.Request.Context(), cqrs.DashboardQuery{ViewerID: userID, Now: time.Now()})
	if err != nil {
		respondCommandError(c, err, "Failed to load dashboard")
		return
	}
	c.JSON(http.StatusOK, view)
}

// WatchDashboard streams "dashboard" events as the merged views change.
func (h *DashboardHandler) WatchDashboard(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	streamLive(c, "dashboard", h.dashboard.Watch(ctx, userID), identity[query.LiveView[*models.DashboardView]])
}

// GetSummary serves the ledger summary of the viewer's own records.
func (h *DashboardHandler) GetSummary(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	summary, err := h.summaries.GetSummary(c.Request.Context(), cqrs.SummaryQuery{UserID: userID})
	if err != nil {
		respondCommandError(c, err, "Failed to load summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// WatchNotifications streams the outcome toasts of the viewer's writes.
func (h *DashboardHandler) WatchNotifications(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	streamLive(c, "toast", h.notifications.Subscribe(ctx, userID), identity[notify.Toast])
}
