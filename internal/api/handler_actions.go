package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"str-manager/internal/parse"
)

// actionResponse is one guard record as reported by the API.
type actionResponse struct {
	UnitCode  string    `json:"unit_code"`
	Action    string    `json:"action"`
	LastRun   string    `json:"last_run"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetActions handles the GET /api/actions request. The optional "unit"
// query parameter filters by unit code; "date" (YYYY-MM-DD, default today)
// is the day the done flag is evaluated for.
func (h *Handler) GetActions(c *gin.Context) {
	day := parse.DateOf(h.clock.Now())
	if raw := c.Query("date"); raw != "" {
		d, err := parse.ParseDate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid 'date' format. Use YYYY-MM-DD."})
			return
		}
		day = d
	}
	unit := c.Query("unit")

	records, err := h.store.Records(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve action records"})
		return
	}

	response := make([]actionResponse, 0, len(records))
	for _, rec := range records {
		if unit != "" && rec.UnitCode != unit {
			continue
		}
		response = append(response, actionResponse{
			UnitCode:  rec.UnitCode,
			Action:    rec.Action,
			LastRun:   rec.LastRun,
			Done:      rec.LastRun == day.String(),
			UpdatedAt: rec.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

// Healthz reports whether the guard store is reachable.
func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "units": len(h.status.Units())})
}
