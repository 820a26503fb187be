package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dayflow/internal/db"
	"github.com/dayflow/internal/service"
	"github.com/gin-gonic/gin"
)

type habitPayload struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Frequency       string `json:"frequency"`
	CustomDays      []int  `json:"custom_days"`
	PreferredTime   string `json:"preferred_time"`
	DurationMinutes int    `json:"duration_minutes"`
	IsActive        *bool  `json:"is_active"`
	Color           string `json:"color"`
}

type habitLogPayload struct {
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
	Note      string `json:"note"`
}

// ListHabits 返回当前用户的习惯列表
func (a *API) ListHabits(c *gin.Context) {
	filter := service.HabitFilter{
		UserID:     currentUserID(c),
		ActiveOnly: c.Query("active") == "true",
		Search:     c.Query("search"),
	}

	habits, err := a.habits.List(filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取习惯列表失败")
		return
	}

	items := make([]gin.H, 0, len(habits))
	for _, habit := range habits {
		items = append(items, habitToPayload(habit))
	}

	c.JSON(http.StatusOK, gin.H{"habits": items})
}

// CreateHabit 新建习惯
func (a *API) CreateHabit(c *gin.Context) {
	var payload habitPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	habit, err := a.habits.Create(currentUserID(c), habitInputFromPayload(payload))
	if err != nil {
		if errors.Is(err, service.ErrHabitInvalidFrequency) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{"habit": habitToPayload(*habit)})
}

// UpdateHabit 更新习惯
func (a *API) UpdateHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload habitPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	habit, err := a.habits.Update(currentUserID(c), id, habitInputFromPayload(payload))
	if err != nil {
		if errors.Is(err, service.ErrHabitNotFound) {
			respondError(c, http.StatusNotFound, "习惯不存在")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// DeleteHabit 删除习惯并级联清理打卡记录
func (a *API) DeleteHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.habits.Delete(currentUserID(c), id); err != nil {
		if errors.Is(err, service.ErrHabitNotFound) {
			respondError(c, http.StatusNotFound, "习惯不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除习惯失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UpsertHabitLog 打卡：同一 (习惯, 日期) 重复提交只覆盖完成状态与备注
func (a *API) UpsertHabitLog(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload habitLogPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	record, err := a.habitLogs.Upsert(currentUserID(c), service.HabitLogInput{
		HabitID:   id,
		LogDate:   payload.Date,
		Completed: payload.Completed,
		Note:      payload.Note,
	})
	if err != nil {
		if errors.Is(err, service.ErrHabitNotFound) {
			respondError(c, http.StatusNotFound, "习惯不存在")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	// 返回重算后的连胜，前端据此即时刷新
	habit, err := a.habits.Get(currentUserID(c), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取习惯失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"log":   habitLogToPayload(*record),
		"habit": habitToPayload(*habit),
	})
}

// ListHabitLogs 返回某习惯的打卡记录，支持区间过滤
func (a *API) ListHabitLogs(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := a.habits.Get(currentUserID(c), id); err != nil {
		respondError(c, http.StatusNotFound, "习惯不存在")
		return
	}

	logs, err := a.habitLogs.ListBetween(service.HabitLogFilter{
		HabitID: id,
		Start:   c.Query("start"),
		End:     c.Query("end"),
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取打卡记录失败")
		return
	}

	items := make([]gin.H, 0, len(logs))
	for _, record := range logs {
		items = append(items, habitLogToPayload(record))
	}

	c.JSON(http.StatusOK, gin.H{"logs": items})
}

// ListLogsByDate 返回当前用户某一天的全部打卡记录
func (a *API) ListLogsByDate(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		respondError(c, http.StatusBadRequest, "date is required")
		return
	}

	logs, err := a.habitLogs.ListByDate(currentUserID(c), date)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取打卡记录失败")
		return
	}

	items := make([]gin.H, 0, len(logs))
	for _, record := range logs {
		items = append(items, habitLogToPayload(record))
	}

	c.JSON(http.StatusOK, gin.H{"logs": items})
}

func habitInputFromPayload(payload habitPayload) service.HabitInput {
	return service.HabitInput{
		Name:            payload.Name,
		Description:     payload.Description,
		Frequency:       payload.Frequency,
		CustomDays:      payload.CustomDays,
		PreferredTime:   payload.PreferredTime,
		DurationMinutes: payload.DurationMinutes,
		IsActive:        payload.IsActive,
		Color:           payload.Color,
	}
}

func habitToPayload(habit db.Habit) gin.H {
	customDays := make([]int, 0)
	for _, part := range strings.Split(habit.CustomDays, ",") {
		if part == "" {
			continue
		}
		if day, err := strconv.Atoi(part); err == nil {
			customDays = append(customDays, day)
		}
	}

	return gin.H{
		"id":               habit.ID,
		"name":             habit.Name,
		"description":      habit.Description,
		"frequency":        habit.Frequency,
		"custom_days":      customDays,
		"preferred_time":   habit.PreferredTime,
		"duration_minutes": habit.DurationMinutes,
		"current_streak":   habit.CurrentStreak,
		"best_streak":      habit.BestStreak,
		"is_active":        habit.IsActive,
		"color":            habit.Color,
		"created_at":       habit.CreatedAt,
	}
}

func habitLogToPayload(record db.HabitLog) gin.H {
	return gin.H{
		"id":        record.ID,
		"habit_id":  record.HabitID,
		"date":      record.LogDate,
		"completed": record.Completed,
		"note":      record.Note,
	}
}
