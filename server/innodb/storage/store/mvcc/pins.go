package mvcc

import (
	"sort"
	"sync"
)

// PinRegistry 记录每个版本上的固定数量。读事务从打开起固定，
// 已提交的写事务从提交起固定到关闭，两者分开计数。
type PinRegistry struct {
	mu      sync.Mutex
	pins    map[uint64]int
	total   int
	writers int
}

// NewPinRegistry 创建空的注册表
func NewPinRegistry() *PinRegistry {
	return &PinRegistry{pins: make(map[uint64]int)}
}

// Pin 固定读视图的版本
func (r *PinRegistry) Pin(rv *ReadView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[rv.version]++
	r.total++
}

// PinWriter 固定已提交写事务的新版本
func (r *PinRegistry) PinWriter(rv *ReadView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[rv.version]++
	r.total++
	r.writers++
}

// Unpin 释放读视图的版本，返回该版本是否已经没有固定
func (r *PinRegistry) Unpin(rv *ReadView) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unpinLocked(rv)
}

// UnpinWriter 释放 PinWriter 固定的版本
func (r *PinRegistry) UnpinWriter(rv *ReadView) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pins[rv.version]; ok && r.writers > 0 {
		r.writers--
	}
	return r.unpinLocked(rv)
}

func (r *PinRegistry) unpinLocked(rv *ReadView) bool {
	n, ok := r.pins[rv.version]
	if !ok {
		return false
	}
	r.total--
	if n <= 1 {
		delete(r.pins, rv.version)
		return true
	}
	r.pins[rv.version] = n - 1
	return false
}

// Count 固定在 version 上的读者数
func (r *PinRegistry) Count(version uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pins[version]
}

// Readers 打开的读事务数
func (r *PinRegistry) Readers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total - r.writers
}

// Writers 已提交但尚未关闭的写事务数
func (r *PinRegistry) Writers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writers
}

// Total 全部固定数
func (r *PinRegistry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// MinPinned 被固定的最小版本
func (r *PinRegistry) MinPinned() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minLocked()
}

func (r *PinRegistry) minLocked() (uint64, bool) {
	var min uint64
	found := false
	for v := range r.pins {
		if !found || v < min {
			min, found = v, true
		}
	}
	return min, found
}

// CanApply version 的修改能否写入数据文件：不能有读者固定在不大于 version 的版本上
func (r *PinRegistry) CanApply(version uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	min, found := r.minLocked()
	return !found || min > version
}

// Versions 按升序返回被固定的版本
func (r *PinRegistry) Versions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.pins))
	for v := range r.pins {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
