package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/pagedeck/internal/db"
	"github.com/pagedeck/internal/handler"
	"github.com/pagedeck/internal/service"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(sessionSecret, uploadDir, uploadURL string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("pagedeck_session", store))

	// 上传资源静态服务
	if uploadDir != "" && uploadURL != "" {
		r.Static(uploadURL, uploadDir)
	}

	api := handler.NewAPI(db.DB, service.NewMemoryCounterStore(), service.NoopInvalidator{}, uploadDir, uploadURL)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// 认证路由；登录成功时触发匿名页面认领
	auth := r.Group("/auth")
	{
		auth.POST("/register", api.Register)
		auth.POST("/login", api.Login)
		auth.GET("/logout", api.Logout)
	}

	// 页面编辑 API
	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/pages", api.CreatePage)
		apiGroup.GET("/pages", api.ListPages)
		apiGroup.GET("/pages/:id", api.GetPage)
		apiGroup.PUT("/pages/:id/draft", api.SaveDraft)
		apiGroup.POST("/pages/:id/publish", api.Publish)
		apiGroup.POST("/uploads", api.UploadAsset)
		apiGroup.GET("/usage", api.GetUsage)
	}

	// 公开页面，放在最后兜底单段路径
	r.GET("/:slug", api.ShowPublishedPage)

	return r
}
