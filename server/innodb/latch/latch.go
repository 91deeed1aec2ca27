package latch

import (
	"sync"
	"sync/atomic"
)

// Latch 提供了一个简单的锁机制
type Latch struct {
	mu sync.RWMutex
}

// NewLatch 创建一个新的锁
func NewLatch() *Latch {
	return &Latch{}
}

// Lock 获取写锁
func (l *Latch) Lock() {
	l.mu.Lock()
}

// Unlock 释放写锁
func (l *Latch) Unlock() {
	l.mu.Unlock()
}

// RLock 获取读锁
func (l *Latch) RLock() {
	l.mu.RLock()
}

// RUnlock 释放读锁
func (l *Latch) RUnlock() {
	l.mu.RUnlock()
}

// WriterSlot 单写者槽位：获取失败立即返回，不排队等待
type WriterSlot struct {
	owner atomic.Uint64
}

// TryAcquire 以 token 占用槽位，已被占用时返回 false
func (w *WriterSlot) TryAcquire(token uint64) bool {
	if token == 0 {
		return false
	}
	return w.owner.CompareAndSwap(0, token)
}

// Release 释放 token 持有的槽位，非持有者调用无效果
func (w *WriterSlot) Release(token uint64) bool {
	return w.owner.CompareAndSwap(token, 0)
}

// Owner 当前持有者，0 表示空闲
func (w *WriterSlot) Owner() uint64 {
	return w.owner.Load()
}

// Busy 槽位是否被占用
func (w *WriterSlot) Busy() bool {
	return w.owner.Load() != 0
}
