package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dayflow/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrSessionNotFound 在指定会话不存在时返回
	ErrSessionNotFound = errors.New("planning session not found")
	// ErrInvalidMessageRole 在消息角色非法时返回
	ErrInvalidMessageRole = errors.New("invalid message role")
)

// PlanningSessionService 负责规划会话的持久化
// 会话是实时对话的唯一事实来源，客户端在进入规划页时据此水合内存转录

type PlanningSessionService struct {
	db *gorm.DB
}

// NewPlanningSessionService 构造 PlanningSessionService
func NewPlanningSessionService(gdb *gorm.DB) *PlanningSessionService {
	return &PlanningSessionService{db: gdb}
}

// GetOrCreate 按 (用户, 规划日期) 幂等获取或创建会话
func (s *PlanningSessionService) GetOrCreate(userID uint, planDate string) (*db.PlanningSession, error) {
	planDate = strings.TrimSpace(planDate)
	if _, err := time.Parse(dateLayout, planDate); err != nil {
		return nil, fmt.Errorf("invalid plan date %q", planDate)
	}

	var session db.PlanningSession
	err := s.db.Where("user_id = ? AND plan_date = ?", userID, planDate).First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find planning session: %w", err)
	}

	session = db.PlanningSession{UserID: userID, PlanDate: planDate}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("create planning session: %w", err)
	}
	return &session, nil
}

// Get 根据 ID 获取会话，校验归属
func (s *PlanningSessionService) Get(userID, id uint) (*db.PlanningSession, error) {
	var session db.PlanningSession
	if err := s.db.Where("user_id = ?", userID).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get planning session: %w", err)
	}
	return &session, nil
}

// AppendMessage 向会话追加一条消息，会话必须已存在。
// ClientID 为空时由服务端生成，供流式更新时前后端对齐。
func (s *PlanningSessionService) AppendMessage(userID, sessionID uint, role, content, clientID string) (*db.PlanningMessage, error) {
	role = strings.TrimSpace(strings.ToLower(role))
	if role != db.MessageRoleUser && role != db.MessageRoleAssistant {
		return nil, ErrInvalidMessageRole
	}

	if _, err := s.Get(userID, sessionID); err != nil {
		return nil, err
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = uuid.New().String()
	}

	message := db.PlanningMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		ClientID:  clientID,
	}
	if err := s.db.Create(&message).Error; err != nil {
		return nil, fmt.Errorf("append planning message: %w", err)
	}

	if err := s.db.Model(&db.PlanningSession{}).Where("id = ?", sessionID).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error; err != nil {
		return nil, fmt.Errorf("touch planning session: %w", err)
	}

	return &message, nil
}

// Transcript 返回会话的全部消息，按追加顺序
func (s *PlanningSessionService) Transcript(userID, sessionID uint) ([]db.PlanningMessage, error) {
	if _, err := s.Get(userID, sessionID); err != nil {
		return nil, err
	}

	var messages []db.PlanningMessage
	if err := s.db.Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("load planning transcript: %w", err)
	}
	return messages, nil
}

// MarkComplete 标记会话已完成（日程确认落库后调用）
func (s *PlanningSessionService) MarkComplete(userID, sessionID uint) error {
	if _, err := s.Get(userID, sessionID); err != nil {
		return err
	}
	if err := s.db.Model(&db.PlanningSession{}).Where("id = ?", sessionID).
		Update("completed", true).Error; err != nil {
		return fmt.Errorf("mark planning session complete: %w", err)
	}
	return nil
}

// ListRecent 返回用户最近的会话
func (s *PlanningSessionService) ListRecent(userID uint, limit int) ([]db.PlanningSession, error) {
	if limit <= 0 {
		limit = 10
	}

	var sessions []db.PlanningSession
	if err := s.db.Where("user_id = ?", userID).
		Order("plan_date DESC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list recent planning sessions: %w", err)
	}
	return sessions, nil
}

// Delete 删除会话及其全部消息
func (s *PlanningSessionService) Delete(userID, sessionID uint) error {
	if _, err := s.Get(userID, sessionID); err != nil {
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&db.PlanningMessage{}).Error; err != nil {
			return fmt.Errorf("delete planning messages: %w", err)
		}
		if err := tx.Delete(&db.PlanningSession{}, sessionID).Error; err != nil {
			return fmt.Errorf("delete planning session: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cascade delete planning session: %w", err)
	}
	return nil
}
