package handler

import (
	"errors"
	"net/http"

	"github.com/dayflow/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type localLoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authCallbackPayload struct {
	ExternalID  string `json:"external_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Login 处理本地账号登录（自托管场景）
func (a *API) Login(c *gin.Context) {
	var payload localLoginPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	user, err := a.users.AuthenticateLocal(payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	if err := saveSessionUser(c, user.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userToPayload(user)})
}

// AuthCallback 消费身份提供商回传的档案，幂等创建用户并建立会话。
// 上游网关负责校验签名，这里只信任已验证的载荷。
func (a *API) AuthCallback(c *gin.Context) {
	var payload authCallbackPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	user, err := a.users.GetOrCreateByExternalID(service.ExternalProfile{
		ExternalID:  payload.ExternalID,
		Email:       payload.Email,
		DisplayName: payload.DisplayName,
	})
	if err != nil {
		if errors.Is(err, service.ErrExternalIDRequired) {
			respondError(c, http.StatusBadRequest, "缺少外部身份标识")
			return
		}
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	if err := saveSessionUser(c, user.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userToPayload(user)})
}

// Logout 处理用户登出
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Me 返回当前登录用户
func (a *API) Me(c *gin.Context) {
	user, err := a.users.Get(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userToPayload(user)})
}

func saveSessionUser(c *gin.Context, userID uint) error {
	session := sessions.Default(c)
	session.Set(sessionUserIDKey, userID)
	return session.Save()
}

// AuthRequired 是一个简单的认证中间件，未登录请求直接拒绝
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get(sessionUserIDKey)
		if userID == nil {
			respondError(c, http.StatusUnauthorized, "未登录")
			c.Abort()
			return
		}
		c.Next()
	}
}
