package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"seat-queue-backend/internal/extension"
	"seat-queue-backend/internal/predict"
	"seat-queue-backend/internal/scheduler"
	"seat-queue-backend/internal/store"
)

// CalendarCache is invalidated when the academic calendar changes.
type CalendarCache interface {
	Invalidate()
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	queue      *scheduler.Scheduler
	extensions *extension.Engine
	predictor  *predict.Predictor
	calendar   CalendarCache
	webpush    *webpush.Options
	loc        *time.Location
}

// Deps are the services the API is served from.
type Deps struct {
	Store      store.Store
	Queue      *scheduler.Scheduler
	Extensions *extension.Engine
	Predictor  *predict.Predictor
	Calendar   CalendarCache
	Webpush    *webpush.Options
	Location   *time.Location
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:      d.Store,
		queue:      d.Queue,
		extensions: d.Extensions,
		predictor:  d.Predictor,
		calendar:   d.Calendar,
		webpush:    d.Webpush,
		loc:        loc,
	}
}

// abortWithError maps domain errors onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrDuplicateActiveRequest), errors.Is(err, store.ErrNotCancelable):
		status = http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, scheduler.ErrInvalidRequest), errors.Is(err, extension.ErrConfigInvalid):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
