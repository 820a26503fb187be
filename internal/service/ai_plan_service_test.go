package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/dayflow/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPlanTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.CalendarEvent{}, &db.SystemSetting{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		db.DB.Exec("DELETE FROM calendar_events")
		db.DB.Exec("DELETE FROM system_settings")
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

type fakeStreamDoer struct {
	body       string
	statusCode int
	lastReq    *http.Request
}

func (f *fakeStreamDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	status := f.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     make(http.Header),
	}, nil
}

func TestExtractScheduleBlock(t *testing.T) {
	reply := "明天的安排如下：\n\n```json\n" +
		`{"events":[{"title":"冥想","startTime":"07:00","endTime":"07:30","category":"habit"},` +
		`{"title":"站会+开发","startTime":"09:00","endTime":"17:00","category":"work","description":"项目冲刺"}],` +
		`"summary":"专注的一天"}` + "\n```\n祝顺利！"

	draft, ok := ExtractScheduleBlock(reply)
	if !ok {
		t.Fatal("expected schedule block to parse")
	}
	if len(draft.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(draft.Events))
	}
	if draft.Events[0].Title != "冥想" || draft.Events[0].StartTime != "07:00" {
		t.Fatalf("unexpected first event: %+v", draft.Events[0])
	}
	if draft.Summary != "专注的一天" {
		t.Fatalf("unexpected summary: %s", draft.Summary)
	}
}

func TestExtractScheduleBlockMalformed(t *testing.T) {
	cases := map[string]string{
		"无代码块":  "明天建议早睡早起，保持运动。",
		"括号不配对": "```json\n{\"events\":[{\"title\":\"x\"\n```",
		"缺少标题":  "```json\n{\"events\":[{\"title\":\"\",\"startTime\":\"07:00\",\"endTime\":\"08:00\"}]}\n```",
		"非法时刻":  "```json\n{\"events\":[{\"title\":\"跑步\",\"startTime\":\"7点\",\"endTime\":\"08:00\"}]}\n```",
		"空事件列表": "```json\n{\"events\":[]}\n```",
		"非对象结构": "```json\n[1,2,3]\n```",
	}

	for name, reply := range cases {
		if draft, ok := ExtractScheduleBlock(reply); ok {
			t.Fatalf("case %s: expected parse failure, got %+v", name, draft)
		}
	}
}

func TestBuildContext(t *testing.T) {
	// 空上下文只包含规划日期
	empty := BuildContext("2024-06-02", PlanContext{})
	if strings.Contains(empty, "习惯") || strings.Contains(empty, "日程") {
		t.Fatalf("expected empty context to contribute nothing, got %q", empty)
	}
	if !strings.Contains(empty, "2024-06-02") {
		t.Fatal("expected context to name the plan date")
	}

	full := BuildContext("2024-06-02", PlanContext{
		Habits: []PlanContextHabit{
			{Name: "晨跑", DurationMinutes: 30, PreferredTime: "morning"},
		},
		ExistingEvents: []PlanContextEvent{
			{Title: "牙医预约", StartTime: "2024-06-02T14:00:00", EndTime: "2024-06-02T15:00:00"},
		},
	})
	if !strings.Contains(full, "晨跑") {
		t.Fatal("expected habit in context")
	}
	if !strings.Contains(full, "牙医预约") {
		t.Fatal("expected existing event in context")
	}
}

func TestMaterializeSchedule(t *testing.T) {
	cleanup := setupPlanTestDB(t)
	defer cleanup()

	settings := NewSystemSettingService(db.DB)
	events := NewEventService(db.DB)
	svc := NewAIPlanService(settings, events)

	created, err := svc.MaterializeSchedule(1, "2024-06-02", []ProposedEvent{
		{Title: "冥想", StartTime: "07:00", EndTime: "07:30", Category: "habit"},
		{Title: "站会+开发", StartTime: "09:00", EndTime: "17:00", Category: "work"},
	})
	if err != nil {
		t.Fatalf("MaterializeSchedule returned error: %v", err)
	}

	if len(created) != 2 {
		t.Fatalf("expected 2 events, got %d", len(created))
	}
	if created[0].StartTime != "2024-06-02T07:00:00" {
		t.Fatalf("expected expanded timestamp, got %s", created[0].StartTime)
	}
	if created[1].StartTime != "2024-06-02T09:00:00" {
		t.Fatalf("expected expanded timestamp, got %s", created[1].StartTime)
	}
	for _, event := range created {
		if event.Date != "2024-06-02" {
			t.Fatalf("expected date 2024-06-02, got %s", event.Date)
		}
		if event.Source != db.EventSourceAI {
			t.Fatalf("expected source ai, got %s", event.Source)
		}
		if event.IsRecurring {
			t.Fatal("expected ai events to be non-recurring")
		}
	}

	// 未知分类回退 other
	fallback, err := svc.MaterializeSchedule(1, "2024-06-02", []ProposedEvent{
		{Title: "散步", StartTime: "18:00", EndTime: "18:30", Category: "stroll"},
	})
	if err != nil {
		t.Fatalf("MaterializeSchedule returned error: %v", err)
	}
	if fallback[0].Category != db.EventCategoryOther {
		t.Fatalf("expected category other, got %s", fallback[0].Category)
	}

	// 非法时刻整体失败，不产生任何事件
	before := countEvents(t)
	if _, err := svc.MaterializeSchedule(1, "2024-06-02", []ProposedEvent{
		{Title: "有效", StartTime: "07:00", EndTime: "07:30"},
		{Title: "坏的", StartTime: "25:99", EndTime: "26:00"},
	}); err == nil {
		t.Fatal("expected error for invalid clock time")
	}
	if after := countEvents(t); after != before {
		t.Fatalf("expected no events from failed batch, had %d now %d", before, after)
	}
}

func countEvents(t *testing.T) int64 {
	t.Helper()
	var count int64
	db.DB.Model(&db.CalendarEvent{}).Count(&count)
	return count
}

func TestStreamPlanReplyConcatenatesDeltas(t *testing.T) {
	cleanup := setupPlanTestDB(t)
	defer cleanup()

	settings := NewSystemSettingService(db.DB)
	if _, err := settings.UpdateSettings(SystemSettingsInput{
		AIProvider:   AIProviderOpenAI,
		OpenAIAPIKey: "sk-test",
	}); err != nil {
		t.Fatalf("failed to store settings: %v", err)
	}

	svc := NewAIPlanService(settings, NewEventService(db.DB))
	doer := &fakeStreamDoer{body: strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"早上"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":"先冥想"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":"半小时。"}}]}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")}
	svc.SetHTTPClient(doer)

	var deltas []string
	reply, err := svc.StreamPlanReply(context.Background(), "2024-06-02",
		[]PlanMessage{{Role: "user", Content: "帮我规划明天"}},
		PlanContext{}, func(delta string) {
			deltas = append(deltas, delta)
		})
	if err != nil {
		t.Fatalf("StreamPlanReply returned error: %v", err)
	}

	if reply != "早上先冥想半小时。" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas in order, got %d", len(deltas))
	}
	if deltas[0] != "早上" || deltas[2] != "半小时。" {
		t.Fatalf("expected deltas applied in arrival order, got %v", deltas)
	}

	if doer.lastReq == nil {
		t.Fatal("expected request to be sent")
	}
	if accept := doer.lastReq.Header.Get("Accept"); !strings.Contains(accept, "text/event-stream") {
		t.Fatalf("expected SSE accept header, got %s", accept)
	}
}

func TestStreamPlanReplyMissingKey(t *testing.T) {
	cleanup := setupPlanTestDB(t)
	defer cleanup()

	settings := NewSystemSettingService(db.DB)
	svc := NewAIPlanService(settings, NewEventService(db.DB))

	_, err := svc.StreamPlanReply(context.Background(), "2024-06-02",
		[]PlanMessage{{Role: "user", Content: "你好"}}, PlanContext{}, nil)
	if err != ErrAIAPIKeyMissing {
		t.Fatalf("expected ErrAIAPIKeyMissing, got %v", err)
	}
}

func TestStreamPlanReplyUpstreamError(t *testing.T) {
	cleanup := setupPlanTestDB(t)
	defer cleanup()

	settings := NewSystemSettingService(db.DB)
	if _, err := settings.UpdateSettings(SystemSettingsInput{
		AIProvider:   AIProviderOpenAI,
		OpenAIAPIKey: "sk-test",
	}); err != nil {
		t.Fatalf("failed to store settings: %v", err)
	}

	svc := NewAIPlanService(settings, NewEventService(db.DB))
	svc.SetHTTPClient(&fakeStreamDoer{statusCode: http.StatusBadGateway, body: "upstream down"})

	_, err := svc.StreamPlanReply(context.Background(), "2024-06-02",
		[]PlanMessage{{Role: "user", Content: "你好"}}, PlanContext{}, nil)
	if err == nil {
		t.Fatal("expected upstream error to surface")
	}
}
