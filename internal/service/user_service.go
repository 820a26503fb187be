package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dayflow/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound 在指定用户不存在时返回
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials 在本地账号用户名或密码错误时返回
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrExternalIDRequired 在缺少外部身份标识时返回
	ErrExternalIDRequired = errors.New("external id is required")
)

// UserService 负责用户的首登创建与偏好设置
// 托管身份由外部提供商校验，这里只消费稳定的 external id 与档案字段

type UserService struct {
	db *gorm.DB
}

// ExternalProfile 描述身份提供商回传的档案字段。
type ExternalProfile struct {
	ExternalID  string
	Email       string
	DisplayName string
}

// UserSettingsInput 定义可由设置页更新的字段。
type UserSettingsInput struct {
	DisplayName    string
	PlanningTime   string
	Timezone       string
	OnboardingDone *bool
}

// NewUserService 构造 UserService
func NewUserService(gdb *gorm.DB) *UserService {
	return &UserService{db: gdb}
}

// GetOrCreateByExternalID 按外部身份幂等获取或创建用户。
// 已存在时同步最新的邮箱与展示名，首次登录时创建记录。
func (s *UserService) GetOrCreateByExternalID(profile ExternalProfile) (*db.User, error) {
	externalID := strings.TrimSpace(profile.ExternalID)
	if externalID == "" {
		return nil, ErrExternalIDRequired
	}

	var user db.User
	err := s.db.Where("external_id = ?", externalID).First(&user).Error
	if err == nil {
		updates := map[string]interface{}{}
		if email := strings.TrimSpace(profile.Email); email != "" && email != user.Email {
			updates["email"] = email
			user.Email = email
		}
		if name := strings.TrimSpace(profile.DisplayName); name != "" && name != user.DisplayName {
			updates["display_name"] = name
			user.DisplayName = name
		}
		if len(updates) > 0 {
			if err := s.db.Model(&user).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("refresh user profile: %w", err)
			}
		}
		return &user, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	user = db.User{
		ExternalID:  externalID,
		Email:       strings.TrimSpace(profile.Email),
		DisplayName: strings.TrimSpace(profile.DisplayName),
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// Get 根据 ID 获取用户
func (s *UserService) Get(id uint) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// UpdateSettings 更新用户偏好，空字符串表示不修改对应字段。
func (s *UserService) UpdateSettings(id uint, input UserSettingsInput) (*db.User, error) {
	user, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(input.DisplayName); name != "" {
		user.DisplayName = name
	}
	if planningTime := strings.TrimSpace(input.PlanningTime); planningTime != "" {
		user.PlanningTime = planningTime
	}
	if tz := strings.TrimSpace(input.Timezone); tz != "" {
		user.Timezone = tz
	}
	if input.OnboardingDone != nil {
		user.OnboardingDone = *input.OnboardingDone
	}

	if err := s.db.Save(user).Error; err != nil {
		return nil, fmt.Errorf("update user settings: %w", err)
	}
	return user, nil
}

// AuthenticateLocal 校验本地账号的用户名与密码（自托管场景）。
func (s *UserService) AuthenticateLocal(username, password string) (*db.User, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user db.User
	if err := s.db.Where("username = ?", trimmed).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find local user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}
