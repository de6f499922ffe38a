package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetSeatPrediction handles GET /api/rooms/:room/seats/:seat/prediction[?curve=true].
func (h *Handler) GetSeatPrediction(c *gin.Context) {
	withCurve := false
	if raw := c.Query("curve"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "curve must be a boolean"})
			return
		}
		withCurve = v
	}

	p, err := h.predictor.Predict(c.Request.Context(), c.Param("room"), c.Param("seat"), withCurve)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
