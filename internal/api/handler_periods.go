package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seat-queue-backend/internal/model"
)

// ListPeriods handles GET /api/periods[?active=true].
func (h *Handler) ListPeriods(c *gin.Context) {
	periods, err := h.store.ListPeriods(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, periods)
}

type createPeriodRequest struct {
	Name      string           `json:"name" binding:"required"`
	StartDate string           `json:"startDate" binding:"required"`
	EndDate   string           `json:"endDate" binding:"required"`
	Type      model.PeriodType `json:"type" binding:"required"`
	IsActive  *bool            `json:"isActive"`
}

// CreatePeriod handles POST /api/periods. Dates are "2006-01-02" in the service timezone.
func (h *Handler) CreatePeriod(c *gin.Context) {
	var req createPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Type {
	case model.PeriodNormal, model.PeriodExam, model.PeriodVacation, model.PeriodFinals:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown period type"})
		return
	}
	start, err1 := time.ParseInLocation("2006-01-02", req.StartDate, h.loc)
	end, err2 := time.ParseInLocation("2006-01-02", req.EndDate, h.loc)
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "dates must be formatted as YYYY-MM-DD"})
		return
	}
	if end.Before(start) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "endDate is before startDate"})
		return
	}

	period := &model.AcademicPeriod{
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
		Type:      req.Type,
		IsActive:  req.IsActive == nil || *req.IsActive,
	}
	if err := h.store.CreatePeriod(c.Request.Context(), period); err != nil {
		abortWithError(c, err)
		return
	}
	if h.calendar != nil {
		h.calendar.Invalidate()
	}
	if h.predictor != nil {
		h.predictor.Flush()
	}
	c.JSON(http.StatusCreated, period)
}
