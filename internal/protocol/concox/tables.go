package concox

import "fmt"

// 协议操作码
const (
	OpLogin            = 0x01
	OpHeartbeat        = 0x13
	OpCmdResponseJM01  = 0x15
	OpLBSAlarm         = 0x19
	OpCmdResponse      = 0x21
	OpGPSLocation      = 0x22
	OpAlarm            = 0x26
	OpAlarmHVT001      = 0x27
	OpLBSExtension     = 0x28
	OpWiFi             = 0x2C
	OpCommand          = 0x80
	OpTimeCalibration  = 0x8A
	OpFileTransfer     = 0x8D
	OpInfoTransmission = 0x94
	OpExternalDevice   = 0x9B
	OpExternalModule   = 0x9C
)

// 0x94 信息传输子类型
const (
	InfoSubVoltage = 0x00
	InfoSubStatus  = 0x04
	InfoSubDoor    = 0x05
	InfoSubICCID   = 0x0A
)

// 0x8D 文件校验方式
const (
	FileCheckCRC = 0x00
	FileCheckMD5 = 0x01
)

var alarmNames = map[byte]string{
	0x01: "SOS",
	0x02: "Power Cut Alarm",
	0x03: "Vibration Alarm",
	0x04: "Enter Fence Alarm",
	0x05: "Exit Fence Alarm",
	0x06: "Over Speed Alarm",
	0x0E: "External Low Battery Alarm",
	0x13: "Tamper Alarm",
	0x19: "Internal Low Battery Alarm",
	0xFE: "ACC On Alarm",
	0xFF: "ACC Off Alarm",
}

// AlarmName 返回告警码名称
func AlarmName(code byte) string {
	if n, ok := alarmNames[code]; ok {
		return n
	}
	return fmt.Sprintf("Unknown Alarm (0x%02X)", code)
}

var batteryLevels = [...]string{
	"No Power",
	"Extremely Low Battery",
	"Very Low Battery",
	"Low Battery",
	"Medium",
	"High",
	"Full",
}

// BatteryLevelName 电压等级名称（0..6）
func BatteryLevelName(level byte) string {
	if int(level) < len(batteryLevels) {
		return batteryLevels[level]
	}
	return fmt.Sprintf("Unknown (0x%02X)", level)
}

var gsmLevels = [...]string{
	"No Signal",
	"Extremely Weak",
	"Very Weak",
	"Good",
	"Strong",
}

// GSMSignalName GSM信号强度名称（0..4）
func GSMSignalName(level byte) string {
	if int(level) < len(gsmLevels) {
		return gsmLevels[level]
	}
	return fmt.Sprintf("Unknown (0x%02X)", level)
}

var uploadModes = map[byte]string{
	0x00: "Time Interval",
	0x01: "Distance Interval",
	0x02: "Inflection Point",
	0x03: "ACC Status",
	0x04: "Re-upload",
	0x05: "Network Recovery",
	0x08: "Power On",
	0x0E: "GPS Dup",
}

// UploadModeName GPS上报模式名称
func UploadModeName(mode byte) string {
	if n, ok := uploadModes[mode]; ok {
		return n
	}
	return fmt.Sprintf("Unknown (0x%02X)", mode)
}
