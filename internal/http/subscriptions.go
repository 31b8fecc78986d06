package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/outreachd/campaign-engine/internal/http/middleware"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
)

type createSubscriptionReq struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types"`
}

func createSubscriptionHandler(subs repository.SubscriptionsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req createSubscriptionReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.URL = strings.TrimSpace(req.URL)
		req.Secret = strings.TrimSpace(req.Secret)

		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid url"})
		}
		if len(req.Secret) < 16 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "secret too short"})
		}
		if len(req.EventTypes) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "event_types required"})
		}

		id, err := subs.Insert(c.Request().Context(), model.WebhookSubscription{
			WorkspaceID: wsID,
			URL:         req.URL,
			Secret:      req.Secret,
			EventTypes:  model.EventTypeList(req.EventTypes),
			Active:      true,
		})
		if err != nil {
			log.Errorf("create subscription failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"id":          id,
			"url":         req.URL,
			"event_types": req.EventTypes,
			"active":      true,
		})
	}
}

func listSubscriptionsHandler(subs repository.SubscriptionsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		rows, err := subs.ListByWorkspace(c.Request().Context(), wsID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		type subView struct {
			ID         int64               `json:"id"`
			URL        string              `json:"url"`
			EventTypes model.EventTypeList `json:"event_types"`
			Active     bool                `json:"active"`
		}
		out := make([]subView, 0, len(rows))
		for _, s := range rows {
			out = append(out, subView{ID: s.ID, URL: s.URL, EventTypes: s.EventTypes, Active: s.Active})
		}
		return c.JSON(http.StatusOK, map[string]any{"results": out})
	}
}

type setActiveReq struct {
	Active bool `json:"active"`
}

func setSubscriptionActiveHandler(subs repository.SubscriptionsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		var req setActiveReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		found, err := subs.SetActive(c.Request().Context(), id, wsID, req.Active)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !found {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return c.JSON(http.StatusOK, map[string]any{"id": id, "active": req.Active})
	}
}
