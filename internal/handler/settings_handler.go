package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dayflow/internal/db"
	"github.com/dayflow/internal/service"
	"github.com/gin-gonic/gin"
)

type userSettingsPayload struct {
	DisplayName    string `json:"display_name"`
	PlanningTime   string `json:"planning_time"`
	Timezone       string `json:"timezone"`
	OnboardingDone *bool  `json:"onboarding_done"`
}

type aiSettingsPayload struct {
	AIProvider     string `json:"ai_provider"`
	OpenAIAPIKey   string `json:"openai_api_key"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	PlanPrompt     string `json:"plan_prompt"`
}

// GetSettings 返回当前用户偏好
func (a *API) GetSettings(c *gin.Context) {
	user, err := a.users.Get(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取用户失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userToPayload(user)})
}

// UpdateSettings 更新当前用户偏好
func (a *API) UpdateSettings(c *gin.Context) {
	var payload userSettingsPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	user, err := a.users.UpdateSettings(currentUserID(c), service.UserSettingsInput{
		DisplayName:    payload.DisplayName,
		PlanningTime:   payload.PlanningTime,
		Timezone:       payload.Timezone,
		OnboardingDone: payload.OnboardingDone,
	})
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			respondError(c, http.StatusNotFound, "用户不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "更新设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userToPayload(user)})
}

// GetAISettings 返回 AI 平台配置（API Key 打码）
func (a *API) GetAISettings(c *gin.Context) {
	settings, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ai_provider":      settings.AIProvider,
		"openai_api_key":   maskAPIKey(settings.OpenAIAPIKey),
		"deepseek_api_key": maskAPIKey(settings.DeepSeekAPIKey),
		"plan_prompt":      settings.PlanPrompt,
	})
}

// UpdateAISettings 保存 AI 平台配置
func (a *API) UpdateAISettings(c *gin.Context) {
	var payload aiSettingsPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	settings, err := a.system.UpdateSettings(service.SystemSettingsInput{
		AIProvider:     payload.AIProvider,
		OpenAIAPIKey:   payload.OpenAIAPIKey,
		DeepSeekAPIKey: payload.DeepSeekAPIKey,
		PlanPrompt:     payload.PlanPrompt,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ai_provider": settings.AIProvider})
}

// TestAIConnection 校验 API Key 可用性
func (a *API) TestAIConnection(c *gin.Context) {
	var payload aiSettingsPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	key := payload.OpenAIAPIKey
	if service.AIProviderDeepSeek == strings.TrimSpace(strings.ToLower(payload.AIProvider)) {
		key = payload.DeepSeekAPIKey
	}

	if err := a.system.TestAIConnection(c.Request.Context(), payload.AIProvider, key); err != nil {
		if errors.Is(err, service.ErrAIAPIKeyMissing) {
			respondError(c, http.StatusBadRequest, "缺少 API Key")
			return
		}
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func maskAPIKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if len(trimmed) <= 8 {
		if trimmed == "" {
			return ""
		}
		return "****"
	}
	return trimmed[:4] + "****" + trimmed[len(trimmed)-4:]
}

func userToPayload(user *db.User) gin.H {
	return gin.H{
		"id":              user.ID,
		"external_id":     user.ExternalID,
		"email":           user.Email,
		"display_name":    user.DisplayName,
		"planning_time":   user.PlanningTime,
		"timezone":        user.Timezone,
		"onboarding_done": user.OnboardingDone,
		"created_at":      user.CreatedAt,
	}
}
