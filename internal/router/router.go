package router

import (
	"github.com/dayflow/internal/db"
	"github.com/dayflow/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("dayflow_session", store))

	api := handler.NewAPI(db.DB)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// 登录前可访问的身份路由
	auth := r.Group("/auth")
	{
		auth.POST("/login", api.Login)
		auth.POST("/callback", api.AuthCallback)
		auth.POST("/logout", api.Logout)
	}

	// 需要认证的业务 API
	authed := r.Group("/api")
	authed.Use(handler.AuthRequired())
	{
		authed.GET("/me", api.Me)
		authed.GET("/settings", api.GetSettings)
		authed.PUT("/settings", api.UpdateSettings)

		authed.GET("/habits", api.ListHabits)
		authed.POST("/habits", api.CreateHabit)
		authed.PUT("/habits/:id", api.UpdateHabit)
		authed.DELETE("/habits/:id", api.DeleteHabit)
		authed.POST("/habits/:id/logs", api.UpsertHabitLog)
		authed.GET("/habits/:id/logs", api.ListHabitLogs)
		authed.GET("/logs", api.ListLogsByDate)

		authed.GET("/events", api.ListEvents)
		authed.POST("/events", api.CreateEvent)
		authed.PUT("/events/:id", api.UpdateEvent)
		authed.DELETE("/events/:id", api.DeleteEvent)
		authed.DELETE("/events", api.DeleteEventsByDate)

		authed.GET("/plan/session", api.GetPlanSession)
		authed.POST("/plan/messages", api.PostPlanMessage)
		authed.POST("/plan/confirm", api.ConfirmPlan)
		authed.POST("/plan/sessions/:id/complete", api.CompletePlanSession)
		authed.DELETE("/plan/sessions/:id", api.DeletePlanSession)
		authed.GET("/plan/sessions/recent", api.RecentPlanSessions)

		admin := authed.Group("/admin")
		{
			admin.GET("/ai-settings", api.GetAISettings)
			admin.PUT("/ai-settings", api.UpdateAISettings)
			admin.POST("/ai-settings/test", api.TestAIConnection)
		}
	}

	return r
}
