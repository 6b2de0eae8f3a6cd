package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rentgidi-chat/realtime"
)

type WSController struct {
	gateway  *realtime.Gateway
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewWSController allowedOrigins 为空或包含 "*" 时不校验 Origin
func NewWSController(gateway *realtime.Gateway, allowedOrigins []string, log *zap.Logger) *WSController {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &WSController{
		gateway: gateway,
		log:     log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
	}
}

// HandleWebSocket 升级连接，认证在连接建立后通过 authenticate 事件完成
func (ctl *WSController) HandleWebSocket(c *gin.Context) {
	conn, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		ctl.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ctl.gateway.Serve(realtime.NewClient(conn, ctl.log))
}

// Health 存活检查，附带在线连接数
func (ctl *WSController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": ctl.gateway.Registry().Count()})
}
