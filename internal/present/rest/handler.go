package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/present/rest/middleware"
	"github.com/totegamma/feedingest/internal/present/rest/presenter"
	"github.com/totegamma/feedingest/internal/usecase"
)

type Handler struct {
	subscription *usecase.SubscriptionUsecase
	entrypoints  *usecase.Entrypoints
}

func NewHandler(
	subscription *usecase.SubscriptionUsecase,
	entrypoints *usecase.Entrypoints,
) *Handler {
	return &Handler{
		subscription: subscription,
		entrypoints:  entrypoints,
	}
}

var (
	managers = middleware.RequireRoles(domain.RoleAdmin, domain.RoleWorkspacesManager)
	readers  = middleware.RequireRoles(domain.RoleAdmin, domain.RoleWorkspacesManager, domain.RoleWorkspacesUser)
	admins   = middleware.RequireRoles(domain.RoleAdmin)
)

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ws := e.Group("/workspaces/:workspaceId")
	ws.POST("/rss", h.handleSubscribe, managers)
	ws.GET("/rss", h.handleList, readers)
	ws.GET("/rss/:feedId", h.handleGet, readers)
	ws.GET("/rss/:feedId/posts", h.handleListPosts, readers)
	ws.POST("/rss/:feedId/enable", h.handleToggle(domain.FeedStatusEnabled), managers)
	ws.POST("/rss/:feedId/disable", h.handleToggle(domain.FeedStatusDisabled), managers)
	ws.DELETE("/rss/:feedId", h.handleDelete, managers)
	ws.GET("/rss-audit", h.handleAudit, admins)

	e.POST("/triggers/poll", h.handlePollTrigger, admins)
	e.POST("/triggers/dispatch", h.handleDispatchTrigger, admins)
	e.POST("/triggers/invoke", h.handleInvoke, admins)
}

func (h *Handler) handleHealthz(c echo.Context) error {
	return presenter.OK(c, echo.Map{"status": "ok"})
}

type subscribeRequest struct {
	URL              string `json:"url"`
	Title            string `json:"title"`
	IdempotencyToken string `json:"idempotencyToken"`
}

func (h *Handler) handleSubscribe(c echo.Context) error {
	ctx := c.Request().Context()

	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, "invalid request body")
	}
	if req.IdempotencyToken == "" {
		req.IdempotencyToken = c.Request().Header.Get("Idempotency-Key")
	}
	if strings.TrimSpace(req.URL) == "" {
		return presenter.BadRequestMessage(c, "url is required")
	}

	feed, err := h.entrypoints.OnSubscribe(ctx, domain.CreateFeedInput{
		WorkspaceID:      c.Param("workspaceId"),
		URL:              strings.TrimSpace(req.URL),
		Title:            req.Title,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPartialFailure) {
			return presenter.PartialFailure(c, feed, err)
		}
		return presenter.Error(c, err)
	}

	return presenter.Created(c, feed)
}

func (h *Handler) handleList(c echo.Context) error {
	feeds, err := h.subscription.List(c.Request().Context(), c.Param("workspaceId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, feeds)
}

func (h *Handler) handleGet(c echo.Context) error {
	feed, err := h.subscription.Get(c.Request().Context(), c.Param("workspaceId"), c.Param("feedId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, feed)
}

func (h *Handler) handleListPosts(c echo.Context) error {
	posts, err := h.subscription.ListPosts(c.Request().Context(), c.Param("workspaceId"), c.Param("feedId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, posts)
}

func (h *Handler) handleToggle(status domain.FeedStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		feed, err := h.entrypoints.OnToggle(c.Request().Context(), c.Param("workspaceId"), c.Param("feedId"), status)
		if err != nil {
			if errors.Is(err, domain.ErrPartialFailure) {
				return presenter.PartialFailure(c, feed, err)
			}
			return presenter.Error(c, err)
		}
		return presenter.OK(c, feed)
	}
}

func (h *Handler) handleDelete(c echo.Context) error {
	ctx := c.Request().Context()
	workspaceID, feedID := c.Param("workspaceId"), c.Param("feedId")

	purge := false
	if raw := c.QueryParam("purge"); raw != "" {
		var err error
		purge, err = strconv.ParseBool(raw)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid purge flag")
		}
	}

	if purge {
		if err := h.subscription.Purge(ctx, workspaceID, feedID); err != nil {
			if errors.Is(err, domain.ErrPartialFailure) {
				return presenter.PartialFailure(c, nil, err)
			}
			return presenter.Error(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}

	feed, err := h.subscription.Unsubscribe(ctx, workspaceID, feedID)
	if err != nil {
		if errors.Is(err, domain.ErrPartialFailure) {
			return presenter.PartialFailure(c, feed, err)
		}
		return presenter.Error(c, err)
	}
	return presenter.OK(c, feed)
}

func (h *Handler) handleAudit(c echo.Context) error {
	found, err := h.subscription.Audit(c.Request().Context(), c.Param("workspaceId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, found)
}

func (h *Handler) handlePollTrigger(c echo.Context) error {
	var payload feedingest.PollPayload
	if err := c.Bind(&payload); err != nil {
		return presenter.BadRequestMessage(c, "invalid request body")
	}
	if payload.WorkspaceID == "" || payload.FeedID == "" {
		return presenter.BadRequestMessage(c, "workspaceId and feedId are required")
	}

	result, err := h.entrypoints.OnPollTrigger(c.Request().Context(), payload.WorkspaceID, payload.FeedID)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleDispatchTrigger(c echo.Context) error {
	result, err := h.entrypoints.OnDispatchTrigger(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

// handleInvoke accepts the invocation body delivered by a managed scheduler target.
func (h *Handler) handleInvoke(c echo.Context) error {
	var inv feedingest.Invocation
	if err := c.Bind(&inv); err != nil {
		return presenter.BadRequestMessage(c, "invalid request body")
	}

	if err := h.entrypoints.Invoke(c.Request().Context(), inv); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"target": inv.Target})
}
