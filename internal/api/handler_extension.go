package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"seat-queue-backend/internal/extension"
	"seat-queue-backend/internal/model"
)

type extensionResponse struct {
	Config *model.AutoExtensionConfig `json:"config"`
	Stats  *extension.Stats           `json:"stats"`
}

// GetAutoExtension handles GET /api/students/:studentId/auto-extension.
func (h *Handler) GetAutoExtension(c *gin.Context) {
	ctx := c.Request.Context()
	student := c.Param("studentId")

	cfg, err := h.extensions.Config(ctx, student)
	if err != nil {
		abortWithError(c, err)
		return
	}
	stats, err := h.extensions.Stats(ctx, student)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, extensionResponse{Config: cfg, Stats: stats})
}

type putExtensionRequest struct {
	IsEnabled                    bool                  `json:"isEnabled"`
	TriggerMinutesBefore         int                   `json:"triggerMinutesBefore"`
	MaxAutoExtensions            int                   `json:"maxAutoExtensions"`
	TimeRestriction              model.TimeRestriction `json:"timeRestriction"`
	StartTime                    *string               `json:"startTime"`
	EndTime                      *string               `json:"endTime"`
	AutoReturnOnEmptyReservation bool                  `json:"autoReturnOnEmptyReservation"`
}

// PutAutoExtension handles PUT /api/students/:studentId/auto-extension.
func (h *Handler) PutAutoExtension(c *gin.Context) {
	var req putExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cfg := &model.AutoExtensionConfig{
		StudentID:                    c.Param("studentId"),
		IsEnabled:                    req.IsEnabled,
		TriggerMinutesBefore:         req.TriggerMinutesBefore,
		MaxAutoExtensions:            req.MaxAutoExtensions,
		TimeRestriction:              req.TimeRestriction,
		StartTime:                    req.StartTime,
		EndTime:                      req.EndTime,
		AutoReturnOnEmptyReservation: req.AutoReturnOnEmptyReservation,
	}
	if err := h.extensions.SaveConfig(c.Request.Context(), cfg); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
