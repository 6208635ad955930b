package concox

import (
	"encoding/hex"
	"testing"
	"time"
)

func TestBuildAck_Login(t *testing.T) {
	got := hex.EncodeToString(BuildAck(OpLogin, 0x0001))
	want := "787805010001d9dc0d0a"
	if got != want {
		t.Fatalf("login ack:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildAck_Heartbeat(t *testing.T) {
	got := hex.EncodeToString(BuildAck(OpHeartbeat, 0x0010))
	want := "787805130010e8f90d0a"
	if got != want {
		t.Fatalf("heartbeat ack:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildTimeResponse(t *testing.T) {
	at := time.Date(2026, 8, 6, 12, 30, 45, 0, time.UTC)
	got := hex.EncodeToString(BuildTimeResponse(at, 0x0E0E))
	want := "78780b8a1a08060c1e2d0e0e709b0d0a"
	if got != want {
		t.Fatalf("time response:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildFileAck(t *testing.T) {
	got := hex.EncodeToString(BuildFileAck(0x0777))
	want := "797900068d0107777a1a0d0a"
	if got != want {
		t.Fatalf("file ack:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildModuleAck(t *testing.T) {
	got := hex.EncodeToString(BuildModuleAck(0x07, 0x0B0B))
	want := "7878069c070b0b5b6a0d0a"
	if got != want {
		t.Fatalf("module ack:\n got: %s\nwant: %s", got, want)
	}
}

// 每个应答都要能被解码器还原为同操作码同序列号的合法帧
func TestAck_RoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	acks := []struct {
		name   string
		bytes  []byte
		opcode byte
		seq    uint16
	}{
		{"登录", BuildAck(OpLogin, 0x0001), OpLogin, 0x0001},
		{"心跳", BuildAck(OpHeartbeat, 0xBEEF), OpHeartbeat, 0xBEEF},
		{"告警", BuildAck(OpAlarm, 0x0081), OpAlarm, 0x0081},
		{"HVT001告警", BuildAck(OpAlarmHVT001, 0x0F0F), OpAlarmHVT001, 0x0F0F},
		{"基站告警", BuildAck(OpLBSAlarm, 0x0C0C), OpLBSAlarm, 0x0C0C},
		{"WiFi", BuildAck(OpWiFi, 0x0099), OpWiFi, 0x0099},
		{"校时", BuildTimeResponse(now, 0x0E0E), OpTimeCalibration, 0x0E0E},
		{"文件分片", BuildFileAck(0x0777), OpFileTransfer, 0x0777},
		{"外设", BuildAck(OpExternalDevice, 0x0A0A), OpExternalDevice, 0x0A0A},
		{"外部模块", BuildModuleAck(0x07, 0x0B0B), OpExternalModule, 0x0B0B},
	}

	for _, tt := range acks {
		t.Run(tt.name, func(t *testing.T) {
			d := NewStreamDecoder()
			frames, err := d.Feed(tt.bytes)
			if err != nil {
				t.Fatalf("Feed: %v", err)
			}
			if len(frames) != 1 {
				t.Fatalf("frames = %d", len(frames))
			}
			f := frames[0]
			if f.Opcode != tt.opcode {
				t.Errorf("opcode = 0x%02X, want 0x%02X", f.Opcode, tt.opcode)
			}
			if f.Sequence() != tt.seq {
				t.Errorf("sequence = 0x%04X, want 0x%04X", f.Sequence(), tt.seq)
			}
			if !f.ChecksumOK() {
				t.Error("outbound frame must carry a valid checksum")
			}
			if !f.TailOK {
				t.Error("outbound frame must end with 0D0A")
			}
		})
	}
}

func TestAckFor(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		msg  Message
		want byte // 0 表示无应答
	}{
		{"登录", Login{base: base{Seq: 1}}, OpLogin},
		{"心跳", Heartbeat{base: base{Seq: 2}}, OpHeartbeat},
		{"定位无应答", GPSLocation{base: base{Seq: 3}}, 0},
		{"告警", Alarm{base: base{Seq: 4}}, OpAlarm},
		{"多基站无应答", LBSExtension{base: base{Seq: 5}}, 0},
		{"指令应答无应答", CommandResponse{base: base{Seq: 6}}, 0},
		{"信息传输无应答", InfoTransmission{base: base{Seq: 7}}, 0},
		{"文件分片", FileTransfer{base: base{Seq: 8}}, OpFileTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := AckFor(tt.msg, now)
			if tt.want == 0 {
				if ack != nil {
					t.Fatalf("expected no ack, got % X", ack)
				}
				return
			}
			if ack == nil {
				t.Fatal("expected ack, got none")
			}
			d := NewStreamDecoder()
			frames, _ := d.Feed(ack)
			if len(frames) != 1 || frames[0].Opcode != tt.want {
				t.Fatalf("ack opcode mismatch")
			}
		})
	}
}
