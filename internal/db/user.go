package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 定义了用户模型
// ExternalID 关联托管身份提供商（首次登录时幂等创建），
// Username/Password 仅用于自托管场景下的本地账号。
// PlanningTime 为用户偏好的规划时刻（HH:MM），Timezone 仅存储不校验。
type User struct {
	gorm.Model
	ExternalID     string `gorm:"size:191;uniqueIndex"`
	Email          string `gorm:"size:191;index"`
	DisplayName    string
	Username       string `gorm:"size:100;index"`
	Password       string
	PlanningTime   string `gorm:"size:5"`
	Timezone       string `gorm:"size:64"`
	OnboardingDone bool
}

// EnsureLocalUser 存在性检查：若提供的用户名与密码均非空且不存在对应账号，则创建一个 bcrypt 哈希的本地用户。
func EnsureLocalUser(username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if DB == nil {
		return errors.New("database not initialized")
	}

	var existing User
	if err := DB.Where("username = ?", trimmedUser).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		return DB.Create(&User{Username: trimmedUser, Password: string(hashed)}).Error
	}

	return nil
}
