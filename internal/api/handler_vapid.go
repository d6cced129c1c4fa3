package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetVAPIDPublicKey handles the GET /api/vapid_public_key request. Browsers
// need the key to subscribe before they can be listed as webpush alert
// recipients. Without VAPID keys the webpush channel is not registered and
// the endpoint reports it as unavailable.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   "web push is disabled: vapid keys are not configured",
			"channel": "webpush",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
