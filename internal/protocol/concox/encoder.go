package concox

import (
	"errors"
	"strings"
)

// 下发指令的固定字段
var (
	serverFlag = []byte{0x00, 0x00, 0x00, 0x00}
	languageEN = []byte{0x00, 0x02}

	ErrBadCommand = errors.New("command must end with '#'")
)

// BuildCommand 构造 0x80 在线指令下发帧。
// 指令为ASCII文本且以'#'结尾；整包长度小于256时用短帧，否则长帧。
func BuildCommand(command string, seq uint16) ([]byte, error) {
	if !strings.HasSuffix(command, "#") {
		return nil, ErrBadCommand
	}

	cmdLen := len(serverFlag) + len(command) + len(languageEN)
	body := make([]byte, 0, 1+cmdLen)
	body = append(body, byte(cmdLen))
	body = append(body, serverFlag...)
	body = append(body, command...)
	body = append(body, languageEN...)

	// opcode + cmdLen字节 + 内容 + seq + crc
	packetLen := 1 + 1 + cmdLen + 2 + 2
	if packetLen < 256 {
		return buildShort(OpCommand, body, seq), nil
	}
	return buildLong(OpCommand, body, seq), nil
}
