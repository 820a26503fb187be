package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dayflow/internal/db"
	"github.com/dayflow/internal/service"
	"github.com/gin-gonic/gin"
)

type eventPayload struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	Category          string `json:"category"`
	IsRecurring       bool   `json:"is_recurring"`
	RecurrencePattern string `json:"recurrence_pattern"`
	Completed         *bool  `json:"completed"`
}

// ListEvents 返回日程，date 查询单日，start/end 查询区间
func (a *API) ListEvents(c *gin.Context) {
	userID := currentUserID(c)

	var (
		events []db.CalendarEvent
		err    error
	)

	date := strings.TrimSpace(c.Query("date"))
	start := strings.TrimSpace(c.Query("start"))
	end := strings.TrimSpace(c.Query("end"))

	switch {
	case date != "":
		events, err = a.events.ListByDate(userID, date)
	case start != "" && end != "":
		events, err = a.events.ListRange(service.EventRangeFilter{UserID: userID, Start: start, End: end})
	default:
		respondError(c, http.StatusBadRequest, "date or start/end is required")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取日程失败")
		return
	}

	items := make([]gin.H, 0, len(events))
	for _, event := range events {
		items = append(items, eventToPayload(event))
	}

	c.JSON(http.StatusOK, gin.H{"events": items})
}

// CreateEvent 手动创建单条日程
func (a *API) CreateEvent(c *gin.Context) {
	var payload eventPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	event, err := a.events.Create(currentUserID(c), eventInputFromPayload(payload))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event": eventToPayload(*event)})
}

// UpdateEvent 更新日程字段
func (a *API) UpdateEvent(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload eventPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	event, err := a.events.Update(currentUserID(c), id, eventInputFromPayload(payload))
	if err != nil {
		if errors.Is(err, service.ErrEventNotFound) {
			respondError(c, http.StatusNotFound, "日程不存在")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": eventToPayload(*event)})
}

// DeleteEvent 删除单条日程，或带 date 查询参数时清空当天日程
func (a *API) DeleteEvent(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.events.Delete(currentUserID(c), id); err != nil {
		if errors.Is(err, service.ErrEventNotFound) {
			respondError(c, http.StatusNotFound, "日程不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除日程失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteEventsByDate 清空当前用户某一天的全部日程
func (a *API) DeleteEventsByDate(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		respondError(c, http.StatusBadRequest, "date is required")
		return
	}

	deleted, err := a.events.DeleteByDate(currentUserID(c), date)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "删除日程失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func eventInputFromPayload(payload eventPayload) service.EventInput {
	return service.EventInput{
		Title:             payload.Title,
		Description:       payload.Description,
		StartTime:         payload.StartTime,
		EndTime:           payload.EndTime,
		Category:          payload.Category,
		IsRecurring:       payload.IsRecurring,
		RecurrencePattern: payload.RecurrencePattern,
		Source:            db.EventSourceUser,
		Completed:         payload.Completed,
	}
}

func eventToPayload(event db.CalendarEvent) gin.H {
	return gin.H{
		"id":                 event.ID,
		"title":              event.Title,
		"description":        event.Description,
		"start_time":         event.StartTime,
		"end_time":           event.EndTime,
		"date":               event.Date,
		"category":           event.Category,
		"is_recurring":       event.IsRecurring,
		"recurrence_pattern": event.RecurrencePattern,
		"source":             event.Source,
		"completed":          event.Completed,
		"created_at":         event.CreatedAt,
	}
}
