package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rentgidi-chat/config"
	"rentgidi-chat/controllers"
	"rentgidi-chat/middlewares"
	"rentgidi-chat/realtime"
	"rentgidi-chat/services"
	"rentgidi-chat/utils"
)

// Deps 路由需要的依赖
type Deps struct {
	Config   *config.Config
	Messages *services.MessageService
	Gateway  *realtime.Gateway
	Tokens   *utils.JWT
	Log      *zap.Logger
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(d.Log))

	// 配置跨域中间件
	corsConfig := cors.Config{
		AllowOrigins:     d.Config.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 || containsWildcard(corsConfig.AllowOrigins) {
		// 通配来源不能与 credentials 同时使用，回显请求来源
		corsConfig.AllowOrigins = nil
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	r.Use(cors.New(corsConfig))

	ws := controllers.NewWSController(d.Gateway, d.Config.CORSOrigins, d.Log)
	conversations := controllers.NewConversationController(d.Messages)
	messages := controllers.NewMessageController(d.Messages)

	r.GET("/ws", ws.HandleWebSocket)
	r.GET("/healthz", ws.Health)

	protected := r.Group("/api")
	protected.Use(middlewares.TokenAuthMiddleware(d.Tokens), middlewares.RateLimitMiddleware(d.Config.RateLimitRPS))
	{
		protected.GET("/conversations", conversations.GetConversations)
		protected.GET("/conversations/:topicId", conversations.GetConversationByTopic)
		protected.PATCH("/conversations/id/:id/active", conversations.SetConversationActive)

		protected.POST("/messages", messages.SendMessage)
		protected.GET("/messages", messages.GetMessages)
		protected.PATCH("/messages/:id/read", messages.MarkAsRead)
	}

	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
