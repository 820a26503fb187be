package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dayflow/internal/db"
	"github.com/dayflow/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

const assistantErrorMessage = "抱歉，我暂时无法连接规划服务，请稍后重试。你的消息已经保存。"

type planMessagePayload struct {
	Date     string `json:"date"`
	Content  string `json:"content"`
	ClientID string `json:"client_id"`
}

type planConfirmPayload struct {
	Date   string                  `json:"date"`
	Events []service.ProposedEvent `json:"events"`
}

// GetPlanSession 按日期幂等获取会话并返回完整转录
func (a *API) GetPlanSession(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		respondError(c, http.StatusBadRequest, "date is required")
		return
	}

	userID := currentUserID(c)
	session, err := a.sessions.GetOrCreate(userID, date)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := a.sessions.Transcript(userID, session.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取会话失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":  planSessionToPayload(*session),
		"messages": transcriptToPayload(messages),
	})
}

// PostPlanMessage 追加用户消息并以 SSE 流式转发模型回复。
// 用户消息先落库，模型调用失败只会追加一条内联错误消息。
func (a *API) PostPlanMessage(c *gin.Context) {
	var payload planMessagePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		respondError(c, http.StatusBadRequest, "content is required")
		return
	}

	userID := currentUserID(c)
	session, err := a.sessions.GetOrCreate(userID, payload.Date)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	// 同一会话同一时刻只允许一个模型调用在途
	if !a.tryAcquireStream(session.ID) {
		respondError(c, http.StatusConflict, "上一条回复尚未完成")
		return
	}
	defer a.releaseStream(session.ID)

	if _, err := a.sessions.AppendMessage(userID, session.ID, db.MessageRoleUser, payload.Content, payload.ClientID); err != nil {
		respondError(c, http.StatusInternalServerError, "保存消息失败")
		return
	}

	transcript, err := a.sessions.Transcript(userID, session.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取会话失败")
		return
	}

	planContext, err := a.assemblePlanContext(userID, session.PlanDate)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "组装上下文失败")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respondError(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	messages := make([]service.PlanMessage, 0, len(transcript))
	for _, msg := range transcript {
		messages = append(messages, service.PlanMessage{Role: msg.Role, Content: msg.Content})
	}

	reply, err := a.planner.StreamPlanReply(c.Request.Context(), session.PlanDate, messages, planContext, func(delta string) {
		writeSSEJSON(c.Writer, gin.H{"delta": delta})
		flusher.Flush()
	})
	if err != nil {
		// 模型失败降级为一条内联助手消息，会话保持可继续
		_, _ = a.sessions.AppendMessage(userID, session.ID, db.MessageRoleAssistant, assistantErrorMessage, "")
		writeSSEJSON(c.Writer, gin.H{"error": assistantErrorMessage})
		flusher.Flush()
		return
	}

	if _, err := a.sessions.AppendMessage(userID, session.ID, db.MessageRoleAssistant, reply, ""); err != nil {
		writeSSEJSON(c.Writer, gin.H{"error": "保存回复失败"})
		flusher.Flush()
		return
	}

	// 回复收尾后整体扫描结构化日程块，解析失败静默忽略
	if draft, ok := service.ExtractScheduleBlock(reply); ok {
		writeSSEJSON(c.Writer, gin.H{"schedule": draft})
		flusher.Flush()
	}

	_, _ = c.Writer.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// ConfirmPlan 把用户确认的候选日程批量落库（单事务，整批成败）
func (a *API) ConfirmPlan(c *gin.Context) {
	var payload planConfirmPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}
	if len(payload.Events) == 0 {
		respondError(c, http.StatusBadRequest, "events is required")
		return
	}

	userID := currentUserID(c)
	events, err := a.planner.MaterializeSchedule(userID, payload.Date, payload.Events)
	if err != nil {
		if errors.Is(err, service.ErrEventInvalidTime) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "保存日程失败")
		return
	}

	// 确认成功后标记会话完成并追加一条确认消息
	if session, err := a.sessions.GetOrCreate(userID, payload.Date); err == nil {
		_ = a.sessions.MarkComplete(userID, session.ID)
		_, _ = a.sessions.AppendMessage(userID, session.ID, db.MessageRoleAssistant,
			"日程已保存到你的日历，祝你度过高效的一天！", "")
	}

	items := make([]gin.H, 0, len(events))
	for _, event := range events {
		items = append(items, eventToPayload(event))
	}

	c.JSON(http.StatusCreated, gin.H{"events": items})
}

// CompletePlanSession 标记会话完成
func (a *API) CompletePlanSession(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.sessions.MarkComplete(currentUserID(c), id); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, "会话不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "更新会话失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeletePlanSession 删除会话及其消息
func (a *API) DeletePlanSession(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.sessions.Delete(currentUserID(c), id); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, "会话不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除会话失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RecentPlanSessions 返回最近的会话列表
func (a *API) RecentPlanSessions(c *gin.Context) {
	sessions, err := a.sessions.ListRecent(currentUserID(c), 10)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取会话列表失败")
		return
	}

	items := make([]gin.H, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, planSessionToPayload(session))
	}

	c.JSON(http.StatusOK, gin.H{"sessions": items})
}

// assemblePlanContext 汇总激活习惯与规划日当天已有日程
func (a *API) assemblePlanContext(userID uint, planDate string) (service.PlanContext, error) {
	habits, err := a.habits.List(service.HabitFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return service.PlanContext{}, err
	}

	events, err := a.events.ListByDate(userID, planDate)
	if err != nil {
		return service.PlanContext{}, err
	}

	pctx := service.PlanContext{}
	for _, habit := range habits {
		pctx.Habits = append(pctx.Habits, service.PlanContextHabit{
			Name:            habit.Name,
			DurationMinutes: habit.DurationMinutes,
			PreferredTime:   habit.PreferredTime,
		})
	}
	for _, event := range events {
		pctx.ExistingEvents = append(pctx.ExistingEvents, service.PlanContextEvent{
			Title:     event.Title,
			StartTime: event.StartTime,
			EndTime:   event.EndTime,
		})
	}

	return pctx, nil
}

func writeSSEJSON(w http.ResponseWriter, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
}

func planSessionToPayload(session db.PlanningSession) gin.H {
	return gin.H{
		"id":         session.ID,
		"plan_date":  session.PlanDate,
		"completed":  session.Completed,
		"created_at": session.CreatedAt,
		"updated_at": session.UpdatedAt,
	}
}

func transcriptToPayload(messages []db.PlanningMessage) []gin.H {
	items := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		items = append(items, gin.H{
			"id":         msg.ID,
			"role":       msg.Role,
			"content":    msg.Content,
			"html":       renderMarkdown(msg.Content),
			"client_id":  msg.ClientID,
			"created_at": msg.CreatedAt,
		})
	}
	return items
}

// renderMarkdown 把消息内容渲染为净化后的 HTML
func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return ""
	}
	return sanitizer.Sanitize(buf.String())
}
