package tcpserver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/tracker-server/internal/config"
)

// Server 设备接入TCP网关
type Server struct {
	cfg    cfgpkg.TCPConfig
	log    *zap.Logger
	ln     net.Listener
	wg     sync.WaitGroup
	stopC  chan struct{}
	onConn func(*ConnContext)

	acceptLim *AcceptLimiter
	connLim   *ConnLimiter

	// 可选指标回调
	onAccept    func()
	onRecvBytes func(n int)
}

// New 创建 TCP 网关
func New(cfg cfgpkg.TCPConfig, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		log:       log,
		stopC:     make(chan struct{}),
		acceptLim: NewAcceptLimiter(cfg.AcceptRate, cfg.AcceptBurst),
		connLim:   NewConnLimiter(cfg.MaxConnections),
	}
}

// SetOnConn 设置新连接回调（连接建立后、读循环启动前触发）
func (s *Server) SetOnConn(h func(*ConnContext)) { s.onConn = h }

// SetMetricsCallbacks 设置指标回调
func (s *Server) SetMetricsCallbacks(onAccept func(), onRecvBytes func(int)) {
	s.onAccept, s.onRecvBytes = onAccept, onRecvBytes
}

// Ready 监听器是否就绪
func (s *Server) Ready() bool { return s.ln != nil }

// Addr 返回实际监听地址（Start 之后有效）
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Start 监听并接受连接（非阻塞，内部 goroutine）。
// 端口绑定失败属进程级致命错误，由调用方决定退出。
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("tcp gateway listening", zap.String("addr", s.cfg.Addr))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopC:
				return
			default:
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.acceptLim.Allow() {
			s.log.Warn("accept rate limited", zap.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		if err := s.connLim.Acquire(context.Background(), time.Second); err != nil {
			s.log.Warn("connection limit reached", zap.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		if s.onAccept != nil {
			s.onAccept()
		}

		cc := newConnContext(s, conn, uuid.New().String())
		if s.onConn != nil {
			s.onConn(cc)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.connLim.Release()
			cc.run()
		}()
	}
}

// Shutdown 优雅关闭：停止接受新连接，等待存量会话自然退出或超时
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopC)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
