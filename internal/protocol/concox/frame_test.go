package concox

import (
	"bytes"
	"encoding/hex"
	"testing"
)

const loginFrameHex = "787811010355172107461053003600010001e2aa0d0a"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestStreamDecoder_SingleFrame(t *testing.T) {
	d := NewStreamDecoder()
	frames, err := d.Feed(mustHex(t, loginFrameHex))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Opcode != OpLogin {
		t.Errorf("opcode = 0x%02X", f.Opcode)
	}
	if f.Long {
		t.Error("short frame flagged as long")
	}
	if !f.TailOK {
		t.Error("tail should be 0D0A")
	}
	if f.Sequence() != 0x0001 {
		t.Errorf("sequence = 0x%04X", f.Sequence())
	}
	if d.Buffered() != 0 {
		t.Errorf("residual buffer = %d bytes", d.Buffered())
	}
}

func TestStreamDecoder_Fragmented(t *testing.T) {
	// 同一帧按 7/6/其余 三段到达，只产出一帧且缓冲为空
	raw := mustHex(t, loginFrameHex)
	d := NewStreamDecoder()

	var got []*Frame
	for _, chunk := range [][]byte{raw[:7], raw[7:13], raw[13:]} {
		fs, err := d.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		got = append(got, fs...)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if !bytes.Equal(got[0].Raw, raw) {
		t.Error("reassembled frame differs from input")
	}
	if d.Buffered() != 0 {
		t.Errorf("residual buffer = %d bytes", d.Buffered())
	}
}

func TestStreamDecoder_AnyChunking(t *testing.T) {
	// 任意切分得到同样的帧序列
	raw := append(mustHex(t, loginFrameHex), mustHex(t, "787805130010e8f90d0a")...)
	for size := 1; size <= len(raw); size++ {
		d := NewStreamDecoder()
		var got []*Frame
		for off := 0; off < len(raw); off += size {
			end := off + size
			if end > len(raw) {
				end = len(raw)
			}
			fs, err := d.Feed(raw[off:end])
			if err != nil {
				t.Fatalf("chunk=%d Feed: %v", size, err)
			}
			got = append(got, fs...)
		}
		if len(got) != 2 {
			t.Fatalf("chunk=%d frames=%d, want 2", size, len(got))
		}
		if got[0].Opcode != OpLogin || got[1].Opcode != OpHeartbeat {
			t.Fatalf("chunk=%d wrong opcodes %02X %02X", size, got[0].Opcode, got[1].Opcode)
		}
	}
}

func TestStreamDecoder_Resync(t *testing.T) {
	// 前置垃圾字节后恢复同步
	garbage := []byte{0x00, 0x11, 0x22, 0x33}
	raw := append(append([]byte(nil), garbage...), mustHex(t, loginFrameHex)...)
	d := NewStreamDecoder()
	frames, err := d.Feed(raw)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 || frames[0].Opcode != OpLogin {
		t.Fatalf("expected login frame after resync, got %d frames", len(frames))
	}
	if d.Discarded != uint64(len(garbage)) {
		t.Errorf("Discarded = %d, want %d", d.Discarded, len(garbage))
	}
}

func TestStreamDecoder_PureGarbage(t *testing.T) {
	d := NewStreamDecoder()
	frames, err := d.Feed([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	if err != nil || len(frames) != 0 {
		t.Fatalf("frames=%d err=%v", len(frames), err)
	}
	if d.Buffered() != 0 {
		t.Errorf("garbage not discarded, %d bytes kept", d.Buffered())
	}
}

func TestStreamDecoder_LongFrame(t *testing.T) {
	raw := mustHex(t, "797900068d0107777a1a0d0a")
	d := NewStreamDecoder()
	frames, err := d.Feed(raw)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if !f.Long || f.Opcode != OpFileTransfer || f.HeaderSize != 4 {
		t.Errorf("long=%v opcode=0x%02X header=%d", f.Long, f.Opcode, f.HeaderSize)
	}
	if f.Sequence() != 0x0777 {
		t.Errorf("sequence = 0x%04X", f.Sequence())
	}
}

func TestStreamDecoder_NeedMore(t *testing.T) {
	d := NewStreamDecoder()
	frames, err := d.Feed([]byte{0x78, 0x78, 0x11})
	if err != nil || len(frames) != 0 {
		t.Fatalf("frames=%d err=%v", len(frames), err)
	}
	if d.Buffered() != 3 {
		t.Errorf("Buffered = %d, want 3", d.Buffered())
	}
}

func TestStreamDecoder_BadTerminatorStillDelivered(t *testing.T) {
	raw := mustHex(t, loginFrameHex)
	raw[len(raw)-2], raw[len(raw)-1] = 0xAA, 0xBB
	d := NewStreamDecoder()
	frames, err := d.Feed(raw)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected best-effort delivery, got %d frames", len(frames))
	}
	if frames[0].TailOK {
		t.Error("TailOK should be false")
	}
}

func TestStreamDecoder_OversizedDeclaredLength(t *testing.T) {
	d := NewStreamDecoder()
	// 7979 + 声明长度 0xFFFF，超出缓冲上限
	_, err := d.Feed([]byte{0x79, 0x79, 0xFF, 0xFF, 0x22, 0x00})
	if err == nil {
		t.Fatal("expected ErrFrameTooLarge")
	}
}

func TestFrame_ChecksumOK(t *testing.T) {
	d := NewStreamDecoder()
	frames, _ := d.Feed(mustHex(t, loginFrameHex))
	if len(frames) != 1 || !frames[0].ChecksumOK() {
		t.Fatal("valid frame should pass checksum")
	}

	bad := mustHex(t, loginFrameHex)
	bad[len(bad)-3] ^= 0xFF
	d2 := NewStreamDecoder()
	frames, _ = d2.Feed(bad)
	if len(frames) != 1 {
		t.Fatalf("corrupted crc must still frame, got %d", len(frames))
	}
	if frames[0].ChecksumOK() {
		t.Error("corrupted crc should fail verification")
	}
}
