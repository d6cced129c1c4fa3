package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"str-manager/internal/orchestrator"
)

// UnitResponse represents the API response for a single unit.
type UnitResponse struct {
	Code         string                   `json:"code"`
	Name         string                   `json:"name"`
	CalendarCode string                   `json:"calendar_code"`
	ActuatorKey  string                   `json:"actuator_key"`
	DoorSensor   string                   `json:"door_sensor"`
	LastPoll     *orchestrator.UnitStatus `json:"last_poll"`
}

// GetUnits handles the GET /api/units request.
func (h *Handler) GetUnits(c *gin.Context) {
	polled := make(map[string]orchestrator.UnitStatus)
	for _, st := range h.status.Status() {
		polled[st.Code] = st
	}

	units := h.status.Units()
	responses := make([]UnitResponse, 0, len(units))
	for _, u := range units {
		resp := UnitResponse{
			Code:         u.Code,
			Name:         u.Name,
			CalendarCode: u.CalendarCode,
			ActuatorKey:  u.ActuatorKey,
			DoorSensor:   u.DoorSensor,
		}
		if st, ok := polled[u.Code]; ok {
			resp.LastPoll = &st
		}
		responses = append(responses, resp)
	}
	c.JSON(http.StatusOK, responses)
}
