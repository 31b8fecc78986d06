package http

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/outreachd/campaign-engine/internal/http/middleware"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
)

// creditsHandler reports the workspace's remaining send allowance for the
// current period. Read-only: the answer can be stale the moment it is
// written, the ledger alone decides whether a send proceeds.
func creditsHandler(workspaces repository.WorkspacesRepository, ledger repository.LedgerRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		ws, err := workspaces.GetByID(c.Request().Context(), wsID)
		if err != nil || ws == nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		period := model.PeriodKey(time.Now())
		remaining, found, err := ledger.Remaining(c.Request().Context(), wsID, period)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !found {
			// No consumption yet this period: full cap available.
			remaining = ws.DailySendCap
		}

		return c.JSON(http.StatusOK, map[string]any{
			"period":    period,
			"cap":       ws.DailySendCap,
			"remaining": remaining,
		})
	}
}
