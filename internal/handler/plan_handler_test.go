package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dayflow/internal/db"
	"github.com/dayflow/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPlanHandlerTest(t *testing.T) (*API, *gin.Engine, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := gdb.AutoMigrate(
		&db.User{},
		&db.Habit{},
		&db.HabitLog{},
		&db.CalendarEvent{},
		&db.PlanningSession{},
		&db.PlanningMessage{},
		&db.SystemSetting{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	db.DB = gdb

	user := db.User{Username: "tester", DisplayName: "测试用户"}
	if err := db.DB.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	api := NewAPI(db.DB)

	engine := gin.New()
	engine.Use(sessions.Sessions("dayflow_session", cookie.NewStore([]byte("test-secret"))))
	engine.Use(func(c *gin.Context) {
		session := sessions.Default(c)
		session.Set(sessionUserIDKey, user.ID)
		c.Next()
	})
	engine.GET("/api/plan/session", api.GetPlanSession)
	engine.POST("/api/plan/messages", api.PostPlanMessage)
	engine.POST("/api/plan/confirm", api.ConfirmPlan)

	cleanup := func() {
		for _, table := range []string{"planning_messages", "planning_sessions", "calendar_events", "habit_logs", "habits", "system_settings", "users"} {
			db.DB.Exec("DELETE FROM " + table)
		}
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	return api, engine, cleanup
}

type cannedStreamDoer struct {
	body string
}

func (d cannedStreamDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(d.body)),
		Header:     make(http.Header),
	}, nil
}

// sseChunks 把若干文本增量拼成上游接口的流式响应体
func sseChunks(t *testing.T, deltas []string) string {
	t.Helper()
	var builder strings.Builder
	for _, delta := range deltas {
		chunk := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"delta": map[string]string{"content": delta}},
			},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			t.Fatalf("failed to marshal chunk: %v", err)
		}
		builder.WriteString("data: ")
		builder.Write(data)
		builder.WriteString("\n\n")
	}
	builder.WriteString("data: [DONE]\n\n")
	return builder.String()
}

func postJSON(t *testing.T, engine *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestPostPlanMessageStreamsAndEmitsSchedule(t *testing.T) {
	api, engine, cleanup := setupPlanHandlerTest(t)
	defer cleanup()

	settings := service.NewSystemSettingService(db.DB)
	if _, err := settings.UpdateSettings(service.SystemSettingsInput{
		AIProvider:   service.AIProviderOpenAI,
		OpenAIAPIKey: "sk-test",
	}); err != nil {
		t.Fatalf("failed to store settings: %v", err)
	}

	scheduleBlock := "```json\n" +
		`{"events":[{"title":"晨跑","startTime":"07:00","endTime":"07:40","category":"habit"}],"summary":"轻松的一天"}` +
		"\n```"
	api.Planner().SetHTTPClient(cannedStreamDoer{body: sseChunks(t, []string{
		"好的，这是你的日程安排：\n\n",
		scheduleBlock,
	})})

	w := postJSON(t, engine, "/api/plan/messages", map[string]string{
		"date":    "2024-06-02",
		"content": "就按这个来吧",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected SSE content type, got %s", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"delta"`) {
		t.Fatalf("expected delta events in stream: %s", body)
	}
	if !strings.Contains(body, `"schedule"`) {
		t.Fatalf("expected schedule event after reply: %s", body)
	}
	if !strings.Contains(body, `"晨跑"`) {
		t.Fatalf("expected proposed event in schedule payload: %s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("expected stream terminator: %s", body)
	}

	// 用户消息与完整助手回复均已入库
	var messages []db.PlanningMessage
	if err := db.DB.Order("id ASC").Find(&messages).Error; err != nil {
		t.Fatalf("failed to load messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != db.MessageRoleUser || messages[1].Role != db.MessageRoleAssistant {
		t.Fatalf("unexpected roles: %s / %s", messages[0].Role, messages[1].Role)
	}
	if !strings.Contains(messages[1].Content, "晨跑") {
		t.Fatalf("assistant reply not persisted in full: %q", messages[1].Content)
	}
	if messages[0].ClientID == "" {
		t.Fatal("expected server-generated client id on user message")
	}
}

func TestPostPlanMessageWithoutKeyDegrades(t *testing.T) {
	_, engine, cleanup := setupPlanHandlerTest(t)
	defer cleanup()

	w := postJSON(t, engine, "/api/plan/messages", map[string]string{
		"date":    "2024-06-02",
		"content": "帮我规划明天",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"error"`) {
		t.Fatalf("expected inline error event, got %s", body)
	}

	// 用户消息保留，降级回复也已入库
	var messages []db.PlanningMessage
	db.DB.Order("id ASC").Find(&messages)
	if len(messages) != 2 {
		t.Fatalf("expected user + fallback messages, got %d", len(messages))
	}
	if messages[1].Content != assistantErrorMessage {
		t.Fatalf("unexpected fallback content: %q", messages[1].Content)
	}
}

func TestConfirmPlanMaterializesAndCompletes(t *testing.T) {
	_, engine, cleanup := setupPlanHandlerTest(t)
	defer cleanup()

	w := postJSON(t, engine, "/api/plan/confirm", map[string]interface{}{
		"date": "2024-06-02",
		"events": []map[string]string{
			{"title": "晨跑", "startTime": "07:00", "endTime": "07:40", "category": "habit"},
			{"title": "专注开发", "startTime": "09:00", "endTime": "12:00", "category": "work"},
		},
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", w.Code, w.Body.String())
	}

	var events []db.CalendarEvent
	if err := db.DB.Order("start_time ASC").Find(&events).Error; err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].StartTime != "2024-06-02T07:00:00" || events[0].Date != "2024-06-02" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	for _, event := range events {
		if event.Source != db.EventSourceAI {
			t.Fatalf("expected ai source, got %s", event.Source)
		}
	}

	var session db.PlanningSession
	if err := db.DB.Where("plan_date = ?", "2024-06-02").First(&session).Error; err != nil {
		t.Fatalf("expected session to exist: %v", err)
	}
	if !session.Completed {
		t.Fatal("expected session marked complete after confirm")
	}
}

func TestConfirmPlanRejectsInvalidTime(t *testing.T) {
	_, engine, cleanup := setupPlanHandlerTest(t)
	defer cleanup()

	w := postJSON(t, engine, "/api/plan/confirm", map[string]interface{}{
		"date": "2024-06-02",
		"events": []map[string]string{
			{"title": "坏的", "startTime": "25:99", "endTime": "26:00"},
		},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var count int64
	db.DB.Model(&db.CalendarEvent{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no events persisted, got %d", count)
	}
}

func TestStreamGuardSingleInFlight(t *testing.T) {
	api, _, cleanup := setupPlanHandlerTest(t)
	defer cleanup()

	if !api.tryAcquireStream(7) {
		t.Fatal("expected first acquire to succeed")
	}
	if api.tryAcquireStream(7) {
		t.Fatal("expected second acquire on same session to fail")
	}
	if !api.tryAcquireStream(8) {
		t.Fatal("expected acquire on another session to succeed")
	}
	api.releaseStream(7)
	if !api.tryAcquireStream(7) {
		t.Fatal("expected acquire after release to succeed")
	}
}

func TestRenderMarkdownSanitizes(t *testing.T) {
	html := renderMarkdown("**加粗** <script>alert(1)</script>")
	if !strings.Contains(html, "<strong>加粗</strong>") {
		t.Fatalf("expected markdown rendered, got %s", html)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("expected script stripped, got %s", html)
	}
}
