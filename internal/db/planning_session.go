package db

import "gorm.io/gorm"

// 会话消息角色
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// PlanningSession 记录一次规划对话
// User + PlanDate 采用唯一索引，每个用户每个规划日期只有一个会话，
// 读取端采用 get-or-create 语义。Completed 表示日程已确认落库。
type PlanningSession struct {
	gorm.Model
	UserID    uint   `gorm:"index;index:idx_planning_session_unique,unique"`
	PlanDate  string `gorm:"size:10;index:idx_planning_session_unique,unique"`
	Completed bool
}

// TableName 重写确保唯一索引作用到 user_id + plan_date
func (PlanningSession) TableName() string {
	return "planning_sessions"
}

// PlanningMessage 为会话中的一条消息，按创建顺序追加，不做修改。
// ClientID 由客户端生成（uuid），用于流式回复时前后端对齐同一条消息。
type PlanningMessage struct {
	gorm.Model
	SessionID uint            `gorm:"index"`
	Session   PlanningSession `gorm:"constraint:OnDelete:CASCADE"`
	Role      string          `gorm:"size:16"`
	Content   string          `gorm:"type:text"`
	ClientID  string          `gorm:"size:36"`
}

// TableName 自定义表名以保持命名一致。
func (PlanningMessage) TableName() string {
	return "planning_messages"
}
