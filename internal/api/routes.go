package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/tracker-server/internal/session"
)

// RegisterControlRoutes 注册操作面路由
func RegisterControlRoutes(
	r *gin.Engine,
	reg *session.Manager,
	listenAddr string,
	logger *zap.Logger,
) {
	if r == nil || reg == nil {
		return
	}

	handler := NewControlHandler(reg, logger, listenAddr)

	api := r.Group("/api")

	// 会话查询
	api.GET("/sessions", handler.ListSessions)
	api.GET("/sessions/:imei", handler.GetSession)

	// 指令下发
	api.POST("/sessions/:imei/command", handler.SendCommand)
	api.POST("/sessions/:imei/immobilize", handler.Immobilize)
	api.POST("/sessions/:imei/mobilize", handler.Mobilize)
	api.POST("/sessions/:imei/status", handler.RequestStatus)
	api.POST("/sessions/:imei/locate", handler.RequestLocation)
	api.POST("/sessions/:imei/battery", handler.RequestBattery)
	api.POST("/sessions/:imei/battery-interval", handler.ConfigureBatteryReporting)

	// 统计
	api.GET("/stats", handler.Stats)

	logger.Info("control routes registered", zap.Int("endpoints", 10))
}
