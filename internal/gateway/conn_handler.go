package gateway

import (
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/tracker-server/internal/metrics"
	"github.com/taoyao-code/tracker-server/internal/protocol/concox"
	"github.com/taoyao-code/tracker-server/internal/session"
	"github.com/taoyao-code/tracker-server/internal/tcpserver"
)

// NewConnHandler 构建 TCP 连接处理器：流式切帧、按操作码分发、
// 会话绑定与应答回写。每条连接的帧严格按到达顺序处理，
// 第N帧的应答先于第N+1帧的处理写出。
func NewConnHandler(
	log *zap.Logger,
	reg *session.Manager,
	appm *metrics.AppMetrics,
) func(*tcpserver.ConnContext) {
	return func(cc *tcpserver.ConnContext) {
		sess := session.NewSession(cc.ID(), cc, log, reg.CommandExpiry())
		if appm != nil {
			sess.OnTimeout = func() { appm.CommandTimeout.Inc() }
		}
		dec := concox.NewStreamDecoder()
		var lastDiscarded uint64

		log.Info("connection_open",
			zap.String("conn_id", cc.ID()),
			zap.String("remote", cc.RemoteAddr()),
		)

		h := &frameHandler{log: log, reg: reg, appm: appm, sess: sess, cc: cc}

		cc.SetOnRead(func(b []byte) {
			frames, err := dec.Feed(b)
			for _, f := range frames {
				h.handle(f)
			}
			if d := dec.Discarded; d > lastDiscarded {
				log.Info("stream resync",
					zap.String("remote", cc.RemoteAddr()),
					zap.Uint64("discarded", d-lastDiscarded),
				)
				if appm != nil {
					appm.ResyncBytesTotal.Add(float64(d - lastDiscarded))
				}
				lastDiscarded = d
			}
			if err != nil {
				log.Warn("frame_too_large",
					zap.String("remote", cc.RemoteAddr()), zap.Error(err))
				_ = cc.Close()
			}
		})

		go func() {
			<-cc.Done()
			imei := sess.IMEI()
			reg.RemoveIf(imei, sess)
			sess.Close()
			if appm != nil {
				appm.OnlineGauge.Set(float64(reg.Count()))
			}
			log.Info("connection_close",
				zap.String("conn_id", cc.ID()),
				zap.String("remote", cc.RemoteAddr()),
				zap.String("imei", imei),
			)
		}()
	}
}

type frameHandler struct {
	log  *zap.Logger
	reg  *session.Manager
	appm *metrics.AppMetrics
	sess *session.Session
	cc   *tcpserver.ConnContext
}

func (h *frameHandler) handle(f *concox.Frame) {
	opcode := fmt.Sprintf("0x%02X", f.Opcode)
	if h.appm != nil {
		h.appm.FrameTotal.WithLabelValues(opcode).Inc()
	}
	h.log.Debug("frame_received",
		zap.String("opcode", opcode),
		zap.Int("size", len(f.Raw)),
		zap.String("remote", h.cc.RemoteAddr()),
	)

	if !f.TailOK {
		// 容忍坏包尾，帧仍然交付
		h.log.Warn("bad frame terminator",
			zap.String("opcode", opcode), zap.String("remote", h.cc.RemoteAddr()))
	}
	if !f.ChecksumOK() {
		// 入站宽松：告警后照常解析
		h.log.Warn("frame checksum mismatch",
			zap.String("opcode", opcode),
			zap.Uint16("declared", f.DeclaredChecksum()),
			zap.String("remote", h.cc.RemoteAddr()),
		)
		if h.appm != nil {
			h.appm.CRCWarnTotal.Inc()
		}
	}

	msg, err := concox.Parse(f)
	if err != nil {
		// 解析失败只丢弃本帧，连接继续
		h.log.Warn("frame parse error",
			zap.String("opcode", opcode),
			zap.String("raw", hex.EncodeToString(f.Raw)),
			zap.Error(err),
		)
		if h.appm != nil {
			h.appm.ParseErrorTotal.Inc()
		}
		return
	}

	h.dispatch(msg)

	if ack := concox.AckFor(msg, time.Now()); ack != nil {
		if err := h.cc.Write(ack); err != nil {
			h.log.Warn("ack write failed",
				zap.String("opcode", opcode), zap.Error(err))
		}
	}
}

func (h *frameHandler) dispatch(msg concox.Message) {
	now := time.Now()
	imei := h.sess.IMEI()

	switch m := msg.(type) {
	case concox.Login:
		if !h.sess.BindIMEI(m.IMEI) {
			h.log.Warn("login with different imei on bound session",
				zap.String("bound", imei), zap.String("got", m.IMEI))
			return
		}
		h.reg.Bind(m.IMEI, h.sess)
		if h.appm != nil {
			h.appm.OnlineGauge.Set(float64(h.reg.Count()))
		}
		h.log.Info("login",
			zap.String("imei", m.IMEI),
			zap.String("remote", h.cc.RemoteAddr()),
			zap.Uint16("sequence", m.Seq),
		)

	case concox.Heartbeat:
		if h.appm != nil {
			h.appm.HeartbeatTotal.Inc()
		}
		h.log.Info("heartbeat",
			zap.String("imei", imei),
			zap.Bool("oil_cut", m.TerminalInfo.OilCut()),
			zap.Bool("gps_tracking", m.TerminalInfo.GPSTracking()),
			zap.Bool("charging", m.TerminalInfo.Charging()),
			zap.Bool("acc_high", m.TerminalInfo.ACCHigh()),
			zap.Bool("armed", m.TerminalInfo.Armed()),
			zap.String("battery", concox.BatteryLevelName(m.BatteryLevel)),
			zap.String("gsm", concox.GSMSignalName(m.GSMSignal)),
		)

	case concox.GPSLocation:
		if m.HasOdometer {
			h.sess.SetOdometer(m.Odometer, now)
		}
		fields := []zap.Field{
			zap.String("imei", imei),
			zap.Time("fix_time", m.GPS.Time),
			zap.Float64("lat", m.GPS.Latitude),
			zap.Float64("lon", m.GPS.Longitude),
			zap.Uint8("speed", m.GPS.Speed),
			zap.Uint16("course", m.GPS.Course),
			zap.Bool("positioned", m.GPS.Positioned),
			zap.Uint8("satellites", m.GPS.Satellites),
		}
		if m.HasStatus {
			fields = append(fields, zap.String("upload_mode", concox.UploadModeName(m.UploadMode)))
		}
		if m.HasOdometer {
			fields = append(fields, zap.Uint32("odometer_m", m.Odometer))
		}
		h.log.Info("gps_location", fields...)

	case concox.Alarm:
		fields := []zap.Field{
			zap.String("imei", imei),
			zap.String("alarm", m.Name),
			zap.Uint8("code", m.Code),
			zap.Time("time", m.Time),
		}
		if m.GPS != nil {
			fields = append(fields,
				zap.Float64("lat", m.GPS.Latitude),
				zap.Float64("lon", m.GPS.Longitude),
			)
		}
		h.log.Warn("alarm", fields...)

	case concox.LBSAlarm:
		h.log.Warn("alarm",
			zap.String("imei", imei),
			zap.String("alarm", m.Name),
			zap.Uint8("code", m.Code),
			zap.Uint16("mcc", m.MCC),
			zap.Uint8("mnc", m.MNC),
			zap.Uint16("lac", m.LAC),
			zap.Uint32("cell_id", m.CellID),
		)

	case concox.LBSExtension:
		h.log.Info("lbs_extension",
			zap.String("imei", imei),
			zap.Uint16("mcc", m.Main.MCC),
			zap.Uint16("lac", m.Main.LAC),
			zap.Uint32("cell_id", m.Main.CellID),
		)

	case concox.WiFi:
		h.log.Info("wifi_report",
			zap.String("imei", imei),
			zap.Int("ap_count", len(m.APs)),
		)

	case concox.CommandResponse:
		h.resolveResponse(m, now)

	case concox.TimeCalibration:
		h.log.Info("time_calibration", zap.String("imei", imei))

	case concox.InfoTransmission:
		h.handleInfo(m, now)

	case concox.FileTransfer:
		h.log.Info("file_chunk",
			zap.String("imei", imei),
			zap.Uint8("file_type", m.FileType),
			zap.Uint32("start", m.Start),
			zap.Int("chunk_len", len(m.Content)),
			zap.Bool("verified", m.Verify()),
			zap.Bool("complete", m.Complete()),
		)

	case concox.ExternalDevice:
		h.log.Info("external_device",
			zap.String("imei", imei),
			zap.String("data", hex.EncodeToString(m.Data)),
		)

	case concox.ExternalModule:
		h.log.Info("external_module",
			zap.String("imei", imei),
			zap.Uint8("module_id", m.ModuleID),
			zap.String("data", hex.EncodeToString(m.Data)),
		)

	case concox.Unknown:
		h.log.Info("unknown opcode",
			zap.String("opcode", fmt.Sprintf("0x%02X", m.Op)),
			zap.String("raw", hex.EncodeToString(m.Raw)),
		)
	}
}

func (h *frameHandler) resolveResponse(m concox.CommandResponse, now time.Time) {
	if pc, ok := h.sess.ResolveCommand(m.Seq); ok {
		if h.appm != nil {
			h.appm.CommandMatched.Inc()
		}
		h.log.Info("command_response_matched",
			zap.String("imei", pc.IMEI),
			zap.String("command", pc.Command),
			zap.String("response", m.Text),
			zap.Uint16("sequence", m.Seq),
			zap.Duration("latency", now.Sub(pc.SentAt)),
		)
		return
	}
	if h.appm != nil {
		h.appm.CommandUnmatched.Inc()
	}
	h.log.Info("command_response_unmatched",
		zap.String("imei", h.sess.IMEI()),
		zap.String("response", m.Text),
		zap.Uint16("sequence", m.Seq),
	)
}

func (h *frameHandler) handleInfo(m concox.InfoTransmission, now time.Time) {
	imei := h.sess.IMEI()
	switch m.Sub {
	case concox.InfoSubVoltage:
		h.sess.SetBatteryVoltage(m.VoltageV, now)
		h.log.Info("info_transmission",
			zap.String("imei", imei),
			zap.String("sub", "external_voltage"),
			zap.Float64("voltage_v", m.VoltageV),
		)
	case concox.InfoSubStatus:
		h.log.Info("info_transmission",
			zap.String("imei", imei),
			zap.String("sub", "status_sync"),
			zap.Any("status", m.Status),
			zap.Bool("oil_cut", m.OilCut),
		)
	case concox.InfoSubDoor:
		h.log.Info("info_transmission",
			zap.String("imei", imei),
			zap.String("sub", "door"),
			zap.Bool("open", m.Door.Open),
			zap.Bool("triggering_high", m.Door.TriggeringHigh),
			zap.Bool("io_high", m.Door.IOHigh),
		)
	case concox.InfoSubICCID:
		h.log.Info("info_transmission",
			zap.String("imei", imei),
			zap.String("sub", "iccid"),
			zap.String("iccid", m.ICCID),
		)
	default:
		h.log.Info("info_transmission",
			zap.String("imei", imei),
			zap.String("sub", fmt.Sprintf("0x%02X", m.Sub)),
			zap.String("raw", hex.EncodeToString(m.Raw)),
		)
	}
}
