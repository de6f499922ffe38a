package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"seat-queue-backend/internal/mw"
	"seat-queue-backend/internal/scheduler"
)

// CreateReservation handles POST /api/reservations. The student may be given in the body or
// in the X-Student-ID header.
func (h *Handler) CreateReservation(c *gin.Context) {
	var req scheduler.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.StudentID == "" {
		req.StudentID = c.GetHeader(mw.StudentHeader)
	}

	created, err := h.queue.Enqueue(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetReservation handles GET /api/reservations/:id.
func (h *Handler) GetReservation(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	req, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// CancelReservation handles DELETE /api/reservations/:id for the student in X-Student-ID.
func (h *Handler) CancelReservation(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	student := c.GetHeader(mw.StudentHeader)
	if student == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": mw.StudentHeader + " header is required"})
		return
	}

	req, err := h.queue.Cancel(c.Request.Context(), id, student)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ListStudentReservations handles GET /api/students/:studentId/reservations.
func (h *Handler) ListStudentReservations(c *gin.Context) {
	reqs, err := h.queue.StudentRequests(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// GetQueueStats handles GET /api/queue/stats.
func (h *Handler) GetQueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request ID"})
		return 0, false
	}
	return id, true
}
