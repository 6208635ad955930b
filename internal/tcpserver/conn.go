package tcpserver

import (
	"errors"
	"net"
	"sync/atomic"
	"time"
)

var ErrConnClosed = errors.New("connection closed")
var ErrWriteQueueFull = errors.New("write queue full")

// ConnContext 单条TCP连接的读/写循环封装。
// 写入走有界队列由单goroutine串行落盘，保证帧字节不交错；
// 队列打满说明对端消费过慢，直接判定背压并关闭连接。
type ConnContext struct {
	s      *Server
	c      net.Conn
	id     string
	writeC chan []byte
	closed int32
	onRead func([]byte)
	doneC  chan struct{}
}

func newConnContext(s *Server, c net.Conn, id string) *ConnContext {
	qsize := s.cfg.WriteQueueSize
	if qsize <= 0 {
		qsize = 128
	}
	return &ConnContext{
		s:      s,
		c:      c,
		id:     id,
		writeC: make(chan []byte, qsize),
		doneC:  make(chan struct{}),
	}
}

// ID 返回连接ID
func (cc *ConnContext) ID() string { return cc.id }

// RemoteAddr 返回远端地址
func (cc *ConnContext) RemoteAddr() string { return cc.c.RemoteAddr().String() }

// SetOnRead 安装读取回调（收到上行原始字节时触发）
func (cc *ConnContext) SetOnRead(h func([]byte)) { cc.onRead = h }

// Write 异步写入。队列满视为背压超限：关闭连接并返回错误。
func (cc *ConnContext) Write(b []byte) error {
	if atomic.LoadInt32(&cc.closed) == 1 {
		return ErrConnClosed
	}
	// 复制一份，避免调用方复用底层切片
	dup := make([]byte, len(b))
	copy(dup, b)
	select {
	case cc.writeC <- dup:
		return nil
	default:
		_ = cc.Close()
		return ErrWriteQueueFull
	}
}

// Close 关闭连接与写队列（幂等）
func (cc *ConnContext) Close() error {
	if !atomic.CompareAndSwapInt32(&cc.closed, 0, 1) {
		return nil
	}
	close(cc.writeC)
	return cc.c.Close()
}

// run 启动读/写循环，阻塞直至连接结束
func (cc *ConnContext) run() {
	defer cc.Close()

	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		for msg := range cc.writeC {
			if cc.s.cfg.WriteTimeout > 0 {
				_ = cc.c.SetWriteDeadline(time.Now().Add(cc.s.cfg.WriteTimeout))
			}
			if _, err := cc.c.Write(msg); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		if cc.s.cfg.ReadTimeout > 0 {
			_ = cc.c.SetReadDeadline(time.Now().Add(cc.s.cfg.ReadTimeout))
		}
		n, err := cc.c.Read(buf)
		if n > 0 {
			if cc.s.onRecvBytes != nil {
				cc.s.onRecvBytes(n)
			}
			if cc.onRead != nil {
				cc.onRead(buf[:n])
			}
		}
		if err != nil {
			break
		}
	}
	// 读结束即关闭写队列，写goroutine才能退出
	_ = cc.Close()
	<-doneW
	select {
	case <-cc.doneC:
	default:
		close(cc.doneC)
	}
}

// Done 返回连接关闭通知通道
func (cc *ConnContext) Done() <-chan struct{} { return cc.doneC }
