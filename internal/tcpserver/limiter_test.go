package tcpserver

import (
	"context"
	"testing"
	"time"
)

func TestAcceptLimiter(t *testing.T) {
	l := NewAcceptLimiter(1, 2)

	// 突发容量内放行
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst should be allowed")
	}
	// 桶耗尽后拒绝
	if l.Allow() {
		t.Fatal("expected rejection after burst")
	}
	if l.RejectedCount() != 1 {
		t.Errorf("rejected = %d", l.RejectedCount())
	}
}

func TestConnLimiter(t *testing.T) {
	l := NewConnLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.Acquire(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if l.Active() != 2 {
		t.Errorf("active = %d", l.Active())
	}

	// 超限获取超时
	if err := l.Acquire(ctx, 50*time.Millisecond); err == nil {
		t.Fatal("expected limit error")
	}

	l.Release()
	if err := l.Acquire(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestConnLimiter_ReleaseWithoutAcquire(t *testing.T) {
	l := NewConnLimiter(1)
	// 多余的归还不得panic或使计数为负
	l.Release()
	if l.Active() != 0 {
		t.Errorf("active = %d", l.Active())
	}
}
