package session

import (
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/tracker-server/internal/protocol/concox"
)

// Manager 设备注册表：IMEI -> 在线会话。
// 重复登录以新会话覆盖旧条目，旧连接随对端断开自然回收。
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *zap.Logger
	expiry   time.Duration
}

// Info 会话快照（操作面只读视图）
type Info struct {
	IMEI        string     `json:"imei"`
	Remote      string     `json:"remote"`
	ConnectedAt time.Time  `json:"connectedAt"`
	BatteryV    *float64   `json:"lastBatteryV,omitempty"`
	BatteryAt   *time.Time `json:"lastBatteryAt,omitempty"`
	OdometerM   *uint32    `json:"lastOdometerM,omitempty"`
	OdometerAt  *time.Time `json:"lastOdometerAt,omitempty"`
}

// NewManager 创建注册表；expiry为在途指令存活期（默认60秒）
func NewManager(log *zap.Logger, expiry time.Duration) *Manager {
	if expiry <= 0 {
		expiry = 60 * time.Second
	}
	return &Manager{sessions: make(map[string]*Session), log: log, expiry: expiry}
}

// CommandExpiry 返回在途指令存活期
func (m *Manager) CommandExpiry() time.Duration { return m.expiry }

// Bind 将IMEI绑定到会话，覆盖同标识的旧条目
func (m *Manager) Bind(imei string, s *Session) {
	m.mu.Lock()
	m.sessions[imei] = s
	m.mu.Unlock()
}

// RemoveIf 仅当注册表仍指向该会话时移除（幂等）
func (m *Manager) RemoveIf(imei string, s *Session) {
	if imei == "" {
		return
	}
	m.mu.Lock()
	if cur, ok := m.sessions[imei]; ok && cur == s {
		delete(m.sessions, imei)
	}
	m.mu.Unlock()
}

// Get 按IMEI查找在线会话
func (m *Manager) Get(imei string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[imei]
	m.mu.RUnlock()
	return s, ok
}

// Count 当前在线会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot 所有在线会话的只读快照
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, snapshotOf(s))
	}
	return out
}

// InfoOf 单个会话的只读快照
func (m *Manager) InfoOf(imei string) (Info, bool) {
	s, ok := m.Get(imei)
	if !ok {
		return Info{}, false
	}
	return snapshotOf(s), true
}

func snapshotOf(s *Session) Info {
	info := Info{
		IMEI:        s.IMEI(),
		Remote:      s.Conn.RemoteAddr(),
		ConnectedAt: s.ConnectedAt,
	}
	if v, at, ok := s.BatteryVoltage(); ok {
		info.BatteryV, info.BatteryAt = &v, &at
	}
	if v, at, ok := s.Odometer(); ok {
		info.OdometerM, info.OdometerAt = &v, &at
	}
	return info
}

// SendCommand 向在线设备下发文本指令。
// 设备不在线返回false；字节入队即返回true，应答由0x21/0x15异步关联。
func (m *Manager) SendCommand(imei, command string) bool {
	s, ok := m.Get(imei)
	if !ok {
		return false
	}

	// 随机16位序列号；与在途条目冲突时换号重试
	var seq uint16
	for i := 0; i < 8; i++ {
		seq = uint16(rand.Uint32())
		if s.TrackCommand(seq, command) {
			break
		}
		if i == 7 {
			return false
		}
	}

	pkt, err := concox.BuildCommand(command, seq)
	if err != nil {
		s.ResolveCommand(seq)
		m.log.Error("command encode failed",
			zap.String("imei", imei), zap.String("command", command), zap.Error(err))
		return false
	}
	if err := s.Conn.Write(pkt); err != nil {
		s.ResolveCommand(seq)
		m.log.Warn("command write failed",
			zap.String("imei", imei), zap.String("command", command), zap.Error(err))
		return false
	}

	m.log.Info("command_sent",
		zap.String("imei", imei),
		zap.String("command", command),
		zap.Uint16("sequence", seq),
	)
	return true
}
