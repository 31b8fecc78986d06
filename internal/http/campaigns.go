package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/outreachd/campaign-engine/internal/campaign"
	"github.com/outreachd/campaign-engine/internal/http/middleware"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/util"
)

type createCampaignReq struct {
	Name        string     `json:"name"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func createCampaignHandler(campaigns repository.CampaignsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req createCampaignReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || len(req.Name) > 200 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid name"})
		}

		cm := model.Campaign{
			ID:          util.NewID(),
			WorkspaceID: wsID,
			Name:        req.Name,
			Status:      model.CampaignDraft,
			ScheduledAt: req.ScheduledAt,
		}
		if err := campaigns.Insert(c.Request().Context(), nil, cm); err != nil {
			log.Errorf("create campaign failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"id":     cm.ID,
			"name":   cm.Name,
			"status": cm.Status.String(),
		})
	}
}

func getCampaignHandler(campaigns repository.CampaignsRepository, steps repository.StepsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		cm, err := campaigns.Get(c.Request().Context(), nil, c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if cm == nil || cm.WorkspaceID != wsID {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}

		stepRows, err := steps.ListByCampaign(c.Request().Context(), cm.ID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"id":           cm.ID,
			"name":         cm.Name,
			"status":       cm.Status.String(),
			"scheduled_at": cm.ScheduledAt,
			"activated_at": cm.ActivatedAt,
			"steps":        stepRows,
		})
	}
}

type transitionReq struct {
	Status string `json:"status"`
}

// transitionCampaignHandler applies one lifecycle transition; the service
// rejects anything outside the allowed graph.
func transitionCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req transitionReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		target, ok := model.ParseCampaignStatus(req.Status)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
		}

		cm, err := svc.Transition(c.Request().Context(), wsID, c.Param("id"), target)
		if err != nil {
			var ite *campaign.InvalidTransitionError
			switch {
			case errors.Is(err, campaign.ErrNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			case errors.As(err, &ite):
				return c.JSON(http.StatusConflict, map[string]any{
					"error": "invalid_transition",
					"from":  ite.From.String(),
					"to":    ite.To.String(),
				})
			case errors.Is(err, campaign.ErrScheduledInFuture):
				return c.JSON(http.StatusConflict, map[string]string{"error": "scheduled start not reached"})
			case errors.Is(err, campaign.ErrNoSteps):
				return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "campaign has no steps"})
			case errors.Is(err, campaign.ErrConflict):
				return c.JSON(http.StatusConflict, map[string]string{"error": "concurrent update, retry"})
			}
			log.Errorf("transition failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"id":     cm.ID,
			"status": cm.Status.String(),
		})
	}
}

func deleteCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		err := svc.Delete(c.Request().Context(), wsID, c.Param("id"))
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, campaign.ErrNotDeletable):
			return c.JSON(http.StatusConflict, map[string]string{"error": "only draft or rejected campaigns can be deleted"})
		case err != nil:
			log.Errorf("delete campaign failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type addStepReq struct {
	TemplateRef  string `json:"template_ref"`
	DelayMinutes int    `json:"delay_minutes"`
	Condition    struct {
		Kind            string `json:"kind"`
		EventType       string `json:"event_type"`
		DeadlineMinutes int    `json:"deadline_minutes"`
		OnFalse         string `json:"on_false"`
	} `json:"condition"`
}

// addStepHandler appends a step to a draft campaign's sequence. Steps cannot
// change after a campaign leaves draft.
func addStepHandler(campaigns repository.CampaignsRepository, steps repository.StepsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		cm, err := campaigns.Get(c.Request().Context(), nil, c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if cm == nil || cm.WorkspaceID != wsID {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if cm.Status != model.CampaignDraft {
			return c.JSON(http.StatusConflict, map[string]string{"error": "steps are editable only in draft"})
		}

		var req addStepReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.TemplateRef = strings.TrimSpace(req.TemplateRef)
		if req.TemplateRef == "" || req.DelayMinutes < 0 || req.Condition.DeadlineMinutes < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		kind, ok := model.ParseConditionKind(req.Condition.Kind)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid condition kind"})
		}
		cond := model.Condition{Kind: kind}
		if kind != model.ConditionNone {
			cond.EventType = strings.TrimSpace(req.Condition.EventType)
			cond.DeadlineMinutes = req.Condition.DeadlineMinutes
			cond.OnFalse = model.BranchAction(req.Condition.OnFalse)
			if cond.EventType == "" || !cond.OnFalse.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid condition"})
			}
		}

		n, err := steps.CountByCampaign(c.Request().Context(), cm.ID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		step := model.StepDefinition{
			CampaignID:   cm.ID,
			OrderIndex:   n,
			TemplateRef:  req.TemplateRef,
			DelayMinutes: req.DelayMinutes,
			Condition:    cond,
		}
		if err := steps.Insert(c.Request().Context(), nil, step); err != nil {
			log.Errorf("add step failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"campaign_id": cm.ID,
			"order_index": n,
		})
	}
}

// deleteStepHandler removes a step from a draft campaign and re-sequences
// the rest.
func deleteStepHandler(campaigns repository.CampaignsRepository, steps repository.StepsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		cm, err := campaigns.Get(c.Request().Context(), nil, c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if cm == nil || cm.WorkspaceID != wsID {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if cm.Status != model.CampaignDraft {
			return c.JSON(http.StatusConflict, map[string]string{"error": "steps are editable only in draft"})
		}

		orderIndex, err := strconv.Atoi(c.Param("order"))
		if err != nil || orderIndex < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid order index"})
		}

		if err := steps.Delete(c.Request().Context(), cm.ID, orderIndex); err != nil {
			log.Errorf("delete step failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}
