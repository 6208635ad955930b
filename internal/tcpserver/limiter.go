package tcpserver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// AcceptLimiter 接入速率限流（Token Bucket），抵御设备群重连风暴
type AcceptLimiter struct {
	limiter       *rate.Limiter
	rejectedCount atomic.Int64
}

// NewAcceptLimiter 创建接入限流器
// ratePerSec: 每秒允许的新连接数；burst: 突发容量
func NewAcceptLimiter(ratePerSec, burst int) *AcceptLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 200
	}
	if burst <= 0 {
		burst = ratePerSec * 2
	}
	return &AcceptLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow 检查是否允许接入（非阻塞）
func (l *AcceptLimiter) Allow() bool {
	if l.limiter.Allow() {
		return true
	}
	l.rejectedCount.Add(1)
	return false
}

// RejectedCount 被拒绝的接入数（累计）
func (l *AcceptLimiter) RejectedCount() int64 { return l.rejectedCount.Load() }

// ConnLimiter 并发连接数上限（Semaphore）
type ConnLimiter struct {
	sem         chan struct{}
	maxConn     int
	activeCount atomic.Int64
}

// NewConnLimiter 创建连接数限流器
func NewConnLimiter(maxConn int) *ConnLimiter {
	if maxConn <= 0 {
		maxConn = 10000
	}
	return &ConnLimiter{sem: make(chan struct{}, maxConn), maxConn: maxConn}
}

// Acquire 获取连接许可，超时返回错误
func (l *ConnLimiter) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case l.sem <- struct{}{}:
		l.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection limit exceeded: max=%d", l.maxConn)
	}
}

// Release 归还连接许可
func (l *ConnLimiter) Release() {
	select {
	case <-l.sem:
		l.activeCount.Add(-1)
	default:
	}
}

// Active 当前活跃连接数
func (l *ConnLimiter) Active() int64 { return l.activeCount.Load() }
