package concox

import "time"

// buildShort 构造短帧：7878 + len + opcode + body + seq + crc + 0d0a
func buildShort(opcode byte, body []byte, seq uint16) []byte {
	declared := 1 + len(body) + 2 + 2 // opcode + body + seq + crc
	buf := make([]byte, 0, 3+declared+2)
	buf = append(buf, startShort, startShort, byte(declared), opcode)
	buf = append(buf, body...)
	buf = append(buf, byte(seq>>8), byte(seq))
	buf = AppendChecksum(buf, buf[2:])
	buf = append(buf, tail1, tail2)
	return buf
}

// buildLong 构造长帧：7979 + len(2) + opcode + body + seq + crc + 0d0a
func buildLong(opcode byte, body []byte, seq uint16) []byte {
	declared := 1 + len(body) + 2 + 2
	buf := make([]byte, 0, 4+declared+2)
	buf = append(buf, startLong, startLong, byte(declared>>8), byte(declared), opcode)
	buf = append(buf, body...)
	buf = append(buf, byte(seq>>8), byte(seq))
	buf = AppendChecksum(buf, buf[2:])
	buf = append(buf, tail1, tail2)
	return buf
}

// BuildAck 构造通用应答帧（登录/心跳/告警等回显序列号的短帧）
func BuildAck(opcode byte, seq uint16) []byte {
	return buildShort(opcode, nil, seq)
}

// BuildModuleAck 构造 0x9C 外部模块应答，回显模块ID
func BuildModuleAck(moduleID byte, seq uint16) []byte {
	return buildShort(OpExternalModule, []byte{moduleID}, seq)
}

// BuildTimeResponse 构造 0x8A 校时应答，携带当前UTC时间
func BuildTimeResponse(now time.Time, seq uint16) []byte {
	now = now.UTC()
	body := []byte{
		byte(now.Year() - 2000),
		byte(now.Month()),
		byte(now.Day()),
		byte(now.Hour()),
		byte(now.Minute()),
		byte(now.Second()),
	}
	return buildShort(OpTimeCalibration, body, seq)
}

// BuildFileAck 构造 0x8D 分片应答（长帧，success=0x01）
func BuildFileAck(seq uint16) []byte {
	return buildLong(OpFileTransfer, []byte{0x01}, seq)
}

// AckFor 返回某消息需要的应答帧；该操作码无应答时返回nil
func AckFor(m Message, now time.Time) []byte {
	switch v := m.(type) {
	case Login:
		return BuildAck(OpLogin, v.Seq)
	case Heartbeat:
		return BuildAck(OpHeartbeat, v.Seq)
	case Alarm:
		return BuildAck(v.Opcode(), v.Seq)
	case LBSAlarm:
		return BuildAck(OpLBSAlarm, v.Seq)
	case WiFi:
		return BuildAck(OpWiFi, v.Seq)
	case TimeCalibration:
		return BuildTimeResponse(now, v.Seq)
	case FileTransfer:
		return BuildFileAck(v.Seq)
	case ExternalDevice:
		return BuildAck(OpExternalDevice, v.Seq)
	case ExternalModule:
		return BuildModuleAck(v.ModuleID, v.Seq)
	default:
		return nil
	}
}
