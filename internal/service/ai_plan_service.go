package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dayflow/internal/db"
)

const (
	defaultOpenAIPlanModel   = "gpt-4o-mini"
	defaultDeepSeekPlanModel = "deepseek-chat"
	defaultPlanTemperature   = 0.6
	defaultPlanMaxTokens     = 1200
)

const defaultPlanSystemPrompt = `你是一名日程规划助理，帮助用户为指定日期安排一天的计划。
结合用户的习惯清单与已有日程提问并给出建议。当用户确认计划后，
在回复末尾输出一个 json 代码块，格式为：
{"events":[{"title":"...","startTime":"HH:MM","endTime":"HH:MM","category":"work|meal|sleep|habit|planning|personal|other","description":"..."}],"summary":"..."}
确认前不要输出该代码块。`

// PlanMessage 是发送给模型的转录消息。
type PlanMessage struct {
	Role    string
	Content string
}

// PlanContextHabit 描述注入提示词的习惯摘要。
type PlanContextHabit struct {
	Name            string
	DurationMinutes int
	PreferredTime   string
}

// PlanContextEvent 描述注入提示词的已有日程摘要。
type PlanContextEvent struct {
	Title     string
	StartTime string
	EndTime   string
}

// PlanContext 汇总一次模型调用的上下文数据，两个集合均可为空。
type PlanContext struct {
	Habits         []PlanContextHabit
	ExistingEvents []PlanContextEvent
}

// ProposedEvent 是模型产出的单条候选日程（HH:MM 时刻）。
type ProposedEvent struct {
	Title       string `json:"title"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// ScheduleDraft 是模型回复中嵌入的结构化日程。
type ScheduleDraft struct {
	Events  []ProposedEvent `json:"events"`
	Summary string          `json:"summary,omitempty"`
}

// AIPlanService 驱动规划对话：组装上下文、流式转发模型回复、
// 识别结构化日程块并在用户确认后批量落库。
type AIPlanService struct {
	client *aiChatClient
	events *EventService
}

// NewAIPlanService 构造默认的 AIPlanService。
func NewAIPlanService(settings *SystemSettingService, events *EventService) *AIPlanService {
	return &AIPlanService{
		client: newAIChatClient(settings, defaultOpenAIPlanModel, defaultDeepSeekPlanModel),
		events: events,
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *AIPlanService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// BuildContext 把习惯与已有日程拼成提示词上下文，空集合不产生内容。
func BuildContext(planDate string, pctx PlanContext) string {
	var builder strings.Builder
	builder.WriteString("规划日期：")
	builder.WriteString(planDate)
	builder.WriteString("\n")

	if len(pctx.Habits) > 0 {
		builder.WriteString("用户的习惯：\n")
		for _, habit := range pctx.Habits {
			builder.WriteString(fmt.Sprintf("- %s（%d 分钟，偏好时段 %s）\n",
				habit.Name, habit.DurationMinutes, habit.PreferredTime))
		}
	}

	if len(pctx.ExistingEvents) > 0 {
		builder.WriteString("当天已有日程：\n")
		for _, event := range pctx.ExistingEvents {
			builder.WriteString(fmt.Sprintf("- %s（%s - %s）\n",
				event.Title, event.StartTime, event.EndTime))
		}
	}

	return builder.String()
}

// StreamPlanReply 携带完整转录与上下文调用模型，流式回调每个增量，
// 返回完整回复文本。调用失败时由上层转换为一条内联错误消息。
func (s *AIPlanService) StreamPlanReply(ctx context.Context, planDate string, transcript []PlanMessage, pctx PlanContext, onDelta func(delta string)) (string, error) {
	settings, err := s.client.settings.GetSettings()
	if err != nil {
		return "", fmt.Errorf("读取系统设置失败: %w", err)
	}

	systemPrompt := strings.TrimSpace(settings.PlanPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultPlanSystemPrompt
	}
	systemPrompt = systemPrompt + "\n\n" + BuildContext(planDate, pctx)

	messages := make([]chatMessage, 0, len(transcript))
	for _, msg := range transcript {
		role := strings.TrimSpace(strings.ToLower(msg.Role))
		if role != db.MessageRoleUser && role != db.MessageRoleAssistant {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, chatMessage{Role: role, Content: msg.Content})
	}

	logAIExchange("PLAN", "prompt", systemPrompt)

	reply, err := s.client.streamWithSettings(ctx, settings, aiChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    defaultPlanMaxTokens,
		Temperature:  defaultPlanTemperature,
	}, onDelta)
	if err != nil {
		return "", err
	}

	logAIExchange("PLAN", "response", reply)
	return reply, nil
}

var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// ExtractScheduleBlock 在回复全文中查找 json 代码块并解析为日程草案。
// 任何解析或校验失败都返回 (nil, false)：对话继续，不视为错误。
func ExtractScheduleBlock(reply string) (*ScheduleDraft, bool) {
	match := fencedJSONPattern.FindStringSubmatch(reply)
	if match == nil {
		return nil, false
	}

	var draft ScheduleDraft
	if err := json.Unmarshal([]byte(strings.TrimSpace(match[1])), &draft); err != nil {
		return nil, false
	}

	if len(draft.Events) == 0 {
		return nil, false
	}
	for _, event := range draft.Events {
		if strings.TrimSpace(event.Title) == "" {
			return nil, false
		}
		if !validClockTime(event.StartTime) || !validClockTime(event.EndTime) {
			return nil, false
		}
	}

	return &draft, true
}

// MaterializeSchedule 把候选日程展开为完整日程并在单个事务内批量创建。
// 固定规划日期拼接 HH:MM 得到完整时间戳，未知分类回退 other，
// 来源统一标记 ai，均不设为循环日程。
func (s *AIPlanService) MaterializeSchedule(userID uint, planDate string, proposed []ProposedEvent) ([]db.CalendarEvent, error) {
	if _, err := time.Parse(dateLayout, planDate); err != nil {
		return nil, fmt.Errorf("invalid plan date %q", planDate)
	}

	inputs := make([]EventInput, 0, len(proposed))
	for _, event := range proposed {
		if !validClockTime(event.StartTime) || !validClockTime(event.EndTime) {
			return nil, fmt.Errorf("%w: %s", ErrEventInvalidTime, event.Title)
		}
		inputs = append(inputs, EventInput{
			Title:       event.Title,
			Description: event.Description,
			StartTime:   planDate + "T" + event.StartTime + ":00",
			EndTime:     planDate + "T" + event.EndTime + ":00",
			Category:    event.Category,
			Source:      db.EventSourceAI,
		})
	}

	return s.events.CreateBatch(userID, inputs)
}

func validClockTime(value string) bool {
	_, err := time.Parse("15:04", strings.TrimSpace(value))
	return err == nil
}
