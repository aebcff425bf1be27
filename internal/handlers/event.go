package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nurture-app/nurture-backend/internal/ics"
	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/services"
)

const monthLayout = "2006-01"

type EventHandler struct {
	log             *logger.Logger
	calendarService services.CalendarService
}

func NewEventHandler(log *logger.Logger, calendarService services.CalendarService) *EventHandler {
	return &EventHandler{
		log:             log.With("handler", "EventHandler"),
		calendarService: calendarService,
	}
}

// ListOccurrences returns the expanded occurrences around ?month=YYYY-MM,
// defaulting to the current month.
func (eh *EventHandler) ListOccurrences(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	loc := eh.calendarService.Location()
	month := time.Now().In(loc)
	if raw := c.Query("month"); raw != "" {
		m, err := time.ParseInLocation(monthLayout, raw, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
		month = m
	}
	occurrences, err := eh.calendarService.ListOccurrences(c.Request.Context(), userID, month)
	if err != nil {
		respondError(c, err, "Failed to load events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": occurrences})
}

func (eh *EventHandler) GetEvent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	eventID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ev, err := eh.calendarService.GetEvent(c.Request.Context(), userID, eventID)
	if err != nil {
		respondError(c, err, "Failed to load event")
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}

func (eh *EventHandler) CreateEvent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var in services.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ev, err := eh.calendarService.CreateEvent(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, err, "Failed to create event")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": ev})
}

func (eh *EventHandler) UpdateEvent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	eventID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var in services.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ev, err := eh.calendarService.UpdateEvent(c.Request.Context(), userID, eventID, in)
	if err != nil {
		respondError(c, err, "Failed to update event")
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}

type occurrenceEditRequest struct {
	Scope           string    `json:"scope"`
	OccurrenceStart time.Time `json:"occurrence_start"`
	services.EventInput
}

// EditOccurrence applies a scoped edit to one occurrence of the series :id.
func (eh *EventHandler) EditOccurrence(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	seriesID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req occurrenceEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	scope, err := services.ParseScope(req.Scope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be one of this, thisAndFuture, all"})
		return
	}
	res, err := eh.calendarService.EditOccurrence(c.Request.Context(), nil, userID, services.OccurrenceEdit{
		SeriesID:        seriesID,
		OccurrenceStart: req.OccurrenceStart,
		Scope:           scope,
		Event:           req.EventInput,
	})
	if err != nil {
		respondError(c, err, "Failed to update recurring event")
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteEvent removes a row outright, or one scoped occurrence when ?scope and
// ?occurrence (RFC 3339) are given.
func (eh *EventHandler) DeleteEvent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	eventID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rawScope := c.Query("scope")
	if rawScope == "" {
		if err := eh.calendarService.DeleteEvent(ctx, userID, eventID); err != nil {
			respondError(c, err, "Failed to delete event")
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	scope, err := services.ParseScope(rawScope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be one of this, thisAndFuture, all"})
		return
	}
	occurrence, err := time.Parse(time.RFC3339, c.Query("occurrence"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "occurrence must be an RFC 3339 timestamp"})
		return
	}
	err = eh.calendarService.DeleteOccurrence(ctx, nil, userID, services.OccurrenceDelete{
		SeriesID:        eventID,
		OccurrenceStart: occurrence,
		Scope:           scope,
	})
	if err != nil {
		respondError(c, err, "Failed to delete recurring event")
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportICS serves the user's calendar as text/calendar.
func (eh *EventHandler) ExportICS(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	events, err := eh.calendarService.ListEvents(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to load events")
		return
	}
	var buf bytes.Buffer
	if err := ics.Write(&buf, events, eh.calendarService.Location(), "Nurture"); err != nil {
		eh.log.Error("Failed to render calendar", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export calendar"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="nurture.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}
