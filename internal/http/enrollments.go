package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/outreachd/campaign-engine/internal/campaign"
	"github.com/outreachd/campaign-engine/internal/http/middleware"
)

type enrollReq struct {
	LeadID int64 `json:"lead_id"`
}

func enrollHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req enrollReq
		if err := c.Bind(&req); err != nil || req.LeadID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		e, err := svc.Enroll(c.Request().Context(), wsID, c.Param("id"), req.LeadID)
		if err != nil {
			switch {
			case errors.Is(err, campaign.ErrNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			case errors.Is(err, campaign.ErrNoSteps):
				return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "campaign has no steps"})
			case errors.Is(err, campaign.ErrNotEnrollable):
				return c.JSON(http.StatusConflict, map[string]string{"error": "campaign is not accepting enrollments"})
			}
			log.Errorf("enroll failed: %v", err)
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"enrollment_id": e.ID,
			"campaign_id":   e.CampaignID,
			"lead_id":       e.LeadID,
			"next_due_at":   e.NextDueAt,
		})
	}
}

func unenrollHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		err := svc.Unenroll(c.Request().Context(), wsID, c.Param("enrollment_id"))
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		case err != nil:
			log.Errorf("unenroll failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}
