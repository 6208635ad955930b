package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/tracker-server/internal/session"
)

// 常用指令字面量
const (
	cmdImmobilize      = "RELAY,1#"
	cmdMobilize        = "RELAY,0#"
	cmdStatus          = "STATUS#"
	cmdLocate          = "WHERE#"
	cmdBattery         = "BATPARAM,0#"
	cmdBatteryFallback = "PARAM#"
)

// ControlHandler 操作面API处理器
type ControlHandler struct {
	reg        *session.Manager
	logger     *zap.Logger
	listenAddr string
	startedAt  time.Time
}

// NewControlHandler 创建操作面API处理器
func NewControlHandler(reg *session.Manager, logger *zap.Logger, listenAddr string) *ControlHandler {
	return &ControlHandler{
		reg:        reg,
		logger:     logger,
		listenAddr: listenAddr,
		startedAt:  time.Now(),
	}
}

// ListSessions 查询在线会话列表
// @Summary 查询在线会话
// @Produce json
// @Success 200 {object} map[string]interface{} "成功"
// @Router /api/sessions [get]
func (h *ControlHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.reg.Snapshot()})
}

// GetSession 查询单个会话
// @Summary 查询单个会话
// @Produce json
// @Param imei path string true "设备标识"
// @Router /api/sessions/{imei} [get]
func (h *ControlHandler) GetSession(c *gin.Context) {
	imei := c.Param("imei")
	info, ok := h.reg.InfoOf(imei)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

// SendCommand 向设备下发文本指令
// @Summary 下发指令
// @Accept json
// @Produce json
// @Param imei path string true "设备标识"
// @Router /api/sessions/{imei}/command [post]
func (h *ControlHandler) SendCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.send(c, c.Param("imei"), req.Command)
}

// Immobilize 断油断电
func (h *ControlHandler) Immobilize(c *gin.Context) {
	h.send(c, c.Param("imei"), cmdImmobilize)
}

// Mobilize 恢复油电
func (h *ControlHandler) Mobilize(c *gin.Context) {
	h.send(c, c.Param("imei"), cmdMobilize)
}

// RequestStatus 请求设备状态
func (h *ControlHandler) RequestStatus(c *gin.Context) {
	h.send(c, c.Param("imei"), cmdStatus)
}

// RequestLocation 请求设备位置
func (h *ControlHandler) RequestLocation(c *gin.Context) {
	h.send(c, c.Param("imei"), cmdLocate)
}

// RequestBattery 请求电池参数，主指令失败时回退 PARAM#
func (h *ControlHandler) RequestBattery(c *gin.Context) {
	imei := c.Param("imei")
	if h.reg.SendCommand(imei, cmdBattery) {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "command": cmdBattery})
		return
	}
	h.send(c, imei, cmdBatteryFallback)
}

// ConfigureBatteryReporting 配置电压上报间隔（分钟）
func (h *ControlHandler) ConfigureBatteryReporting(c *gin.Context) {
	minutes, err := strconv.Atoi(c.Query("minutes"))
	if err != nil || minutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer"})
		return
	}
	h.send(c, c.Param("imei"), fmt.Sprintf("BATINTERVAL,%d#", minutes))
}

// Stats 运行统计
// @Summary 运行统计
// @Produce json
// @Router /api/stats [get]
func (h *ControlHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session_count":  h.reg.Count(),
		"listen_addr":    h.listenAddr,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *ControlHandler) send(c *gin.Context, imei, command string) {
	if h.reg.SendCommand(imei, command) {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "command": command})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"status": "not_connected"})
}
