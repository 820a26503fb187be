package db

import "gorm.io/gorm"

// 日程分类（闭合枚举）
const (
	EventCategoryWork     = "work"
	EventCategoryMeal     = "meal"
	EventCategorySleep    = "sleep"
	EventCategoryHabit    = "habit"
	EventCategoryPlanning = "planning"
	EventCategoryPersonal = "personal"
	EventCategoryOther    = "other"
)

// 日程来源
const (
	EventSourceAI   = "ai"
	EventSourceUser = "user"
)

// CalendarEvent 定义了日历日程模型
// StartTime/EndTime 为本地时间字符串（YYYY-MM-DDTHH:MM:SS），
// Date 冗余存储 YYYY-MM-DD 供区间查询，必须与 StartTime 的日期一致。
// Source 标记来源（ai 批量确认 / user 手动创建）。
type CalendarEvent struct {
	gorm.Model
	UserID            uint   `gorm:"index;index:idx_event_user_date"`
	Title             string
	Description       string
	StartTime         string `gorm:"size:19"`
	EndTime           string `gorm:"size:19"`
	Date              string `gorm:"size:10;index:idx_event_user_date"`
	Category          string `gorm:"size:16"`
	IsRecurring       bool
	RecurrencePattern string
	Source            string `gorm:"size:8"`
	Completed         *bool
}

// TableName 自定义表名以保持命名一致。
func (CalendarEvent) TableName() string {
	return "calendar_events"
}

// ValidEventCategory 判断分类是否在闭合枚举内。
func ValidEventCategory(category string) bool {
	switch category {
	case EventCategoryWork, EventCategoryMeal, EventCategorySleep,
		EventCategoryHabit, EventCategoryPlanning, EventCategoryPersonal,
		EventCategoryOther:
		return true
	}
	return false
}
