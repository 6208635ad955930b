package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeviceConn 会话持有的连接能力（由 tcpserver.ConnContext 提供）
type DeviceConn interface {
	Write(b []byte) error
	Close() error
	RemoteAddr() string
}

// PendingCommand 在途指令：按16位序列号等待设备应答
type PendingCommand struct {
	Command string
	SentAt  time.Time
	IMEI    string
}

// Session 单条TCP连接的会话状态
type Session struct {
	ID          string
	Conn        DeviceConn
	ConnectedAt time.Time

	mu      sync.Mutex
	imei    string
	pending map[uint16]PendingCommand

	batteryV   float64
	batteryAt  time.Time
	hasBattery bool

	odometerM   uint32
	odometerAt  time.Time
	hasOdometer bool

	expiry time.Duration
	log    *zap.Logger
	stopC  chan struct{}
	stopMu sync.Once

	// OnTimeout 指令超时回调（指标上报），可为空
	OnTimeout func()
}

// NewSession 创建会话并启动在途指令过期扫描
func NewSession(id string, conn DeviceConn, log *zap.Logger, expiry time.Duration) *Session {
	if expiry <= 0 {
		expiry = 60 * time.Second
	}
	s := &Session{
		ID:          id,
		Conn:        conn,
		ConnectedAt: time.Now(),
		pending:     make(map[uint16]PendingCommand),
		expiry:      expiry,
		log:         log,
		stopC:       make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// BindIMEI 绑定设备标识；每个会话一生只绑定一次，后续调用忽略
func (s *Session) BindIMEI(imei string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.imei != "" {
		return s.imei == imei
	}
	s.imei = imei
	return true
}

// IMEI 返回已绑定的设备标识，未登录为空串
func (s *Session) IMEI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imei
}

// TrackCommand 记录一条在途指令；序列号冲突时返回false，调用方换号重试
func (s *Session) TrackCommand(seq uint16, command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[seq]; exists {
		return false
	}
	s.pending[seq] = PendingCommand{Command: command, SentAt: time.Now(), IMEI: s.imei}
	return true
}

// ResolveCommand 按序列号取出在途指令；命中即删除
func (s *Session) ResolveCommand(seq uint16) (PendingCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[seq]
	if ok {
		delete(s.pending, seq)
	}
	return pc, ok
}

// PendingCount 当前在途指令数
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SetBatteryVoltage 记录外电电压（伏）
func (s *Session) SetBatteryVoltage(v float64, at time.Time) {
	s.mu.Lock()
	s.batteryV, s.batteryAt, s.hasBattery = v, at, true
	s.mu.Unlock()
}

// BatteryVoltage 返回最近一次外电电压观测
func (s *Session) BatteryVoltage() (float64, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batteryV, s.batteryAt, s.hasBattery
}

// SetOdometer 记录里程（米）
func (s *Session) SetOdometer(m uint32, at time.Time) {
	s.mu.Lock()
	s.odometerM, s.odometerAt, s.hasOdometer = m, at, true
	s.mu.Unlock()
}

// Odometer 返回最近一次里程观测
func (s *Session) Odometer() (uint32, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.odometerM, s.odometerAt, s.hasOdometer
}

// Close 停止过期扫描；连接关闭由 tcpserver 负责
func (s *Session) Close() {
	s.stopMu.Do(func() { close(s.stopC) })
}

// sweepLoop 周期扫描在途指令，超过存活期的删除并记 command_timeout
func (s *Session) sweepLoop() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-s.stopC:
			return
		case now := <-tick.C:
			s.expire(now)
		}
	}
}

func (s *Session) expire(now time.Time) {
	s.mu.Lock()
	var expired []struct {
		seq uint16
		pc  PendingCommand
	}
	for seq, pc := range s.pending {
		if now.Sub(pc.SentAt) >= s.expiry {
			expired = append(expired, struct {
				seq uint16
				pc  PendingCommand
			}{seq, pc})
			delete(s.pending, seq)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		if s.OnTimeout != nil {
			s.OnTimeout()
		}
		s.log.Warn("command_timeout",
			zap.String("imei", e.pc.IMEI),
			zap.String("command", e.pc.Command),
			zap.Uint16("sequence", e.seq),
			zap.Duration("waited", now.Sub(e.pc.SentAt)),
		)
	}
}
