package concox

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ErrTruncated 负载长度不足以覆盖该操作码的固定字段
var ErrTruncated = fmt.Errorf("payload truncated")

// Parse 按操作码解析一帧，返回对应的消息变体。
// 未识别的操作码返回 Unknown，不视为错误。
func Parse(f *Frame) (Message, error) {
	p := f.Payload()
	b := base{Seq: f.Sequence()}

	switch f.Opcode {
	case OpLogin:
		if len(p) < 8 {
			return nil, fmt.Errorf("login: %w", ErrTruncated)
		}
		return Login{base: b, IMEI: DecodeIMEI(p[:8])}, nil

	case OpHeartbeat:
		if len(p) < 5 {
			return nil, fmt.Errorf("heartbeat: %w", ErrTruncated)
		}
		return Heartbeat{
			base:         b,
			TerminalInfo: TerminalInfo(p[0]),
			BatteryLevel: p[1],
			GSMSignal:    p[2],
			Language:     u16(p[3:5]),
		}, nil

	case OpGPSLocation:
		return parseGPSLocation(f, b)

	case OpAlarm, OpAlarmHVT001:
		return parseAlarm(f, b)

	case OpLBSAlarm:
		if len(p) < 13 {
			return nil, fmt.Errorf("lbs alarm: %w", ErrTruncated)
		}
		return LBSAlarm{
			base:         b,
			MCC:          u16(p[0:2]),
			MNC:          p[2],
			LAC:          u16(p[3:5]),
			CellID:       u24(p[5:8]),
			TerminalInfo: TerminalInfo(p[8]),
			BatteryLevel: p[9],
			GSMSignal:    p[10],
			Code:         p[11],
			Name:         AlarmName(p[11]),
			Language:     p[12],
		}, nil

	case OpLBSExtension:
		if len(p) < 54 {
			return nil, fmt.Errorf("lbs extension: %w", ErrTruncated)
		}
		m := LBSExtension{
			base:          b,
			Time:          readDateTime(p[0:6]),
			Main:          readCellInfo(p[6:15]),
			TimingAdvance: p[51],
			Language:      u16(p[52:54]),
		}
		for i := 0; i < 6; i++ {
			m.Neighbors[i] = readNeighbor(p[15+i*6 : 21+i*6])
		}
		return m, nil

	case OpWiFi:
		return parseWiFi(p, b)

	case OpCmdResponse, OpCmdResponseJM01:
		return parseCmdResponse(f, b)

	case OpTimeCalibration:
		return TimeCalibration{base: b}, nil

	case OpInfoTransmission:
		return parseInfoTransmission(p, b)

	case OpFileTransfer:
		return parseFileTransfer(p, b)

	case OpExternalDevice:
		if len(p) < 1 || len(p) < 1+int(p[0]) {
			return nil, fmt.Errorf("external device: %w", ErrTruncated)
		}
		return ExternalDevice{base: b, Data: append([]byte(nil), p[1:1+int(p[0])]...)}, nil

	case OpExternalModule:
		if len(p) < 2 || len(p) < 2+int(p[1]) {
			return nil, fmt.Errorf("external module: %w", ErrTruncated)
		}
		return ExternalModule{base: b, ModuleID: p[0], Data: append([]byte(nil), p[2:2+int(p[1])]...)}, nil

	default:
		return Unknown{base: b, Op: f.Opcode, Raw: append([]byte(nil), p...)}, nil
	}
}

// readGPSBlock 解析 gpsinfo(1)+lat(4)+lon(4)+speed(1)+courseStatus(2)，
// 日期由调用方给出。坐标按象限位定号：B1 bit2 置位为北纬（正），
// bit3 置位为西经（负）。
func readGPSBlock(date []byte, b []byte) GPSBlock {
	g := GPSBlock{
		Time:       readDateTime(date),
		Satellites: b[0] & 0x0F,
	}
	lat := float64(u32(b[1:5])) / 1800000.0
	lon := float64(u32(b[5:9])) / 1800000.0
	g.Speed = b[9]

	b1, b2 := b[10], b[11]
	g.Course = uint16(b1&0x03)<<8 | uint16(b2)
	g.Positioned = b1&0x10 != 0
	g.Differential = b1&0x20 != 0
	if b1&0x04 == 0 {
		lat = -lat // 南纬
	}
	if b1&0x08 != 0 {
		lon = -lon // 西经
	}
	g.Latitude, g.Longitude = lat, lon

	// 超出合法坐标域的帧视为未定位
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		g.Positioned = false
	}
	return g
}

func readCellInfo(b []byte) CellInfo {
	return CellInfo{
		MCC:    u16(b[0:2]),
		MNC:    b[2],
		LAC:    u16(b[3:5]),
		CellID: u24(b[5:8]),
		RSSI:   b[8],
	}
}

func readNeighbor(b []byte) NeighborCell {
	return NeighborCell{LAC: u16(b[0:2]), CellID: u24(b[2:5]), RSSI: b[5]}
}

func parseGPSLocation(f *Frame, b base) (Message, error) {
	p := f.Payload()
	if len(p) < 26 {
		return nil, fmt.Errorf("gps location: %w", ErrTruncated)
	}
	m := GPSLocation{
		base:   b,
		GPS:    readGPSBlock(p[0:6], p[6:18]),
		MCC:    u16(p[18:20]),
		MNC:    p[20],
		LAC:    u16(p[21:23]),
		CellID: u24(p[23:26]),
	}
	extra := len(p) - 26
	if extra >= 3 {
		m.HasStatus = true
		m.ACCState = p[26]
		m.UploadMode = p[27]
		m.GPSReupload = p[28]
	}
	if extra >= 7 {
		// 里程紧邻序列号之前
		raw := f.Raw
		m.HasOdometer = true
		m.Odometer = u32(raw[len(raw)-10 : len(raw)-6])
	}
	return m, nil
}

func parseAlarm(f *Frame, b base) (Message, error) {
	p := f.Payload()
	if len(p) < 6 {
		return nil, fmt.Errorf("alarm: %w", ErrTruncated)
	}
	raw := f.Raw
	code := raw[len(raw)-10]
	m := Alarm{
		base:   b,
		HVT001: f.Opcode == OpAlarmHVT001,
		Time:   readDateTime(p[0:6]),
		Code:   code,
		Name:   AlarmName(code),
	}
	if m.HVT001 && len(p) >= 18 && p[6]&0x0F > 0 {
		g := readGPSBlock(p[0:6], p[6:18])
		m.GPS = &g
	}
	return m, nil
}

func parseWiFi(p []byte, b base) (Message, error) {
	if len(p) < 53 {
		return nil, fmt.Errorf("wifi: %w", ErrTruncated)
	}
	m := WiFi{
		base:      b,
		Time:      readDateTime(p[0:6]),
		Main:      readCellInfo(p[6:15]),
		TimeLeads: p[51],
	}
	for i := 0; i < 6; i++ {
		m.Neighbors[i] = readNeighbor(p[15+i*6 : 21+i*6])
	}
	count := int(p[52])
	off := 53
	for i := 0; i < count; i++ {
		if off+8 > len(p) {
			break
		}
		mac := p[off : off+6]
		strength := int8(p[off+6])
		ssidLen := int(p[off+7])
		off += 8
		if off+ssidLen > len(p) {
			break
		}
		ssid := string(p[off : off+ssidLen])
		off += ssidLen
		m.APs = append(m.APs, WiFiAP{MAC: formatMAC(mac), Signal: strength, SSID: ssid})
	}
	return m, nil
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}

func parseCmdResponse(f *Frame, b base) (Message, error) {
	p := f.Payload()
	m := CommandResponse{base: b, JM01: f.Opcode == OpCmdResponseJM01}

	off := 0
	if !m.JM01 {
		if len(p) < 4 {
			return nil, fmt.Errorf("command response: %w", ErrTruncated)
		}
		m.ServerFlag = u32(p[0:4])
		off = 4
	}

	// 长帧用2字节应答长度，短帧1字节
	var declared int
	if f.Long {
		if len(p) < off+2 {
			return nil, fmt.Errorf("command response: %w", ErrTruncated)
		}
		declared = int(u16(p[off : off+2]))
		off += 2
	} else {
		if len(p) < off+1 {
			return nil, fmt.Errorf("command response: %w", ErrTruncated)
		}
		declared = int(p[off])
		off++
	}
	if declared > len(p)-off {
		declared = len(p) - off
	}
	text := string(p[off : off+declared])
	text = strings.TrimRight(strings.ReplaceAll(text, "\x00", ""), " \t\r\n")
	m.Text = text
	return m, nil
}

func parseInfoTransmission(p []byte, b base) (Message, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("info transmission: %w", ErrTruncated)
	}
	m := InfoTransmission{base: b, Sub: p[0]}
	body := p[1:]

	switch m.Sub {
	case InfoSubVoltage:
		if len(body) < 2 {
			return nil, fmt.Errorf("info voltage: %w", ErrTruncated)
		}
		m.VoltageV = float64(u16(body[0:2])) / 100.0

	case InfoSubStatus:
		m.Status = parseStatusSync(string(body))
		if dyd, ok := m.Status["DYD"]; ok {
			if v, err := strconv.ParseUint(dyd, 16, 64); err == nil {
				m.OilCut = v&0x02 != 0
			}
		}

	case InfoSubDoor:
		if len(body) < 1 {
			return nil, fmt.Errorf("info door: %w", ErrTruncated)
		}
		m.Door = &DoorStatus{
			Open:           body[0]&0x01 != 0,
			TriggeringHigh: body[0]&0x02 != 0,
			IOHigh:         body[0]&0x04 != 0,
		}

	case InfoSubICCID:
		if len(body) < 10 {
			return nil, fmt.Errorf("info iccid: %w", ErrTruncated)
		}
		m.ICCID = hex.EncodeToString(body[:10])

	default:
		m.Raw = append([]byte(nil), body...)
	}
	return m, nil
}

// parseStatusSync 解析 KEY=VAL;KEY=VAL 状态同步文本
func parseStatusSync(s string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func parseFileTransfer(p []byte, b base) (Message, error) {
	if len(p) < 6 {
		return nil, fmt.Errorf("file transfer: %w", ErrTruncated)
	}
	m := FileTransfer{
		base:       b,
		FileType:   p[0],
		FileLength: u32(p[1:5]),
		CheckType:  p[5],
	}
	checkLen := 2
	if m.CheckType == FileCheckMD5 {
		checkLen = 16
	}
	off := 6
	if len(p) < off+checkLen+6 {
		return nil, fmt.Errorf("file transfer: %w", ErrTruncated)
	}
	m.Check = append([]byte(nil), p[off:off+checkLen]...)
	off += checkLen
	m.Start = u32(p[off : off+4])
	off += 4
	chunkLen := int(u16(p[off : off+2]))
	off += 2
	if len(p) < off+chunkLen {
		return nil, fmt.Errorf("file transfer content: %w", ErrTruncated)
	}
	m.Content = append([]byte(nil), p[off:off+chunkLen]...)
	off += chunkLen

	flagLen := 6 // 文件类型0x00/0x02携带6字节时间
	if m.FileType == 0x01 {
		flagLen = 2
	}
	if len(p) >= off+flagLen {
		m.Flag = append([]byte(nil), p[off:off+flagLen]...)
	}
	return m, nil
}

// Verify 校验分片内容：CRC用CRC-ITU，MD5按RFC 1321且大小写不敏感比较
func (f FileTransfer) Verify() bool {
	switch f.CheckType {
	case FileCheckCRC:
		if len(f.Check) < 2 {
			return false
		}
		return Checksum(f.Content) == u16(f.Check[:2])
	case FileCheckMD5:
		sum := md5.Sum(f.Content)
		return strings.EqualFold(hex.EncodeToString(sum[:]), hex.EncodeToString(f.Check))
	default:
		return false
	}
}
