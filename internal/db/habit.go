package db

import "gorm.io/gorm"

// 习惯频率策略
const (
	HabitFrequencyDaily    = "daily"
	HabitFrequencyWeekdays = "weekdays"
	HabitFrequencyWeekends = "weekends"
	HabitFrequencyWeekly   = "weekly"
	HabitFrequencyCustom   = "custom"
)

// 偏好时段
const (
	PreferredTimeMorning   = "morning"
	PreferredTimeAfternoon = "afternoon"
	PreferredTimeEvening   = "evening"
	PreferredTimeFlexible  = "flexible"
)

// Habit 定义了习惯模型
// Frequency 取 daily/weekdays/weekends/weekly/custom，custom 时 CustomDays
// 存储逗号分隔的星期集合（0=周日）。
// CurrentStreak/BestStreak 为派生缓存，只允许 RecomputeStreaks 写入，
// 始终满足 BestStreak >= CurrentStreak 且 BestStreak 单调不减。
type Habit struct {
	gorm.Model
	UserID          uint `gorm:"index"`
	Name            string
	Description     string
	Frequency       string `gorm:"size:16"`
	CustomDays      string `gorm:"size:32"`
	PreferredTime   string `gorm:"size:16"`
	DurationMinutes int
	CurrentStreak   int
	BestStreak      int
	IsActive        bool   `gorm:"default:true"`
	Color           string `gorm:"size:16"`
}

// HabitLog 记录习惯打卡日志
// Habit + LogDate 采用唯一索引，保证幂等；同一天重复打卡只覆盖
// Completed/Note。LogDate 存 YYYY-MM-DD 字符串，字典序即时间序。
// UserID 为冗余字段，便于按(用户,日期)直接查询。
type HabitLog struct {
	gorm.Model
	HabitID   uint   `gorm:"index;index:idx_habit_log_unique,unique"`
	Habit     Habit  `gorm:"constraint:OnDelete:CASCADE"`
	UserID    uint   `gorm:"index:idx_habit_log_user_date"`
	LogDate   string `gorm:"size:10;index:idx_habit_log_unique,unique;index:idx_habit_log_user_date"`
	Completed bool
	Note      string
}

// TableName 重写确保唯一索引作用到 habit_id + log_date
func (HabitLog) TableName() string {
	return "habit_logs"
}
