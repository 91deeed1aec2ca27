package buffer_pool

import (
	"sync/atomic"
)

// VersionPoolStats 版本池统计信息
type VersionPoolStats struct {
	// 注册与回收
	VersionsRegistered int64
	VersionsReleased   int64
	PagesRegistered    int64
	PagesReleased      int64

	// 查找
	Lookups    int64
	LookupHits int64
}

// RecordRegister 记录一次版本注册
func (s *VersionPoolStats) RecordRegister(pages int) {
	atomic.AddInt64(&s.VersionsRegistered, 1)
	atomic.AddInt64(&s.PagesRegistered, int64(pages))
}

// RecordRelease 记录回收
func (s *VersionPoolStats) RecordRelease(versions, pages int) {
	atomic.AddInt64(&s.VersionsReleased, int64(versions))
	atomic.AddInt64(&s.PagesReleased, int64(pages))
}

// RecordLookup 记录查找
func (s *VersionPoolStats) RecordLookup(hit bool) {
	atomic.AddInt64(&s.Lookups, 1)
	if hit {
		atomic.AddInt64(&s.LookupHits, 1)
	}
}

// Snapshot 返回统计信息的副本
func (s *VersionPoolStats) Snapshot() VersionPoolStats {
	return VersionPoolStats{
		VersionsRegistered: atomic.LoadInt64(&s.VersionsRegistered),
		VersionsReleased:   atomic.LoadInt64(&s.VersionsReleased),
		PagesRegistered:    atomic.LoadInt64(&s.PagesRegistered),
		PagesReleased:      atomic.LoadInt64(&s.PagesReleased),
		Lookups:            atomic.LoadInt64(&s.Lookups),
		LookupHits:         atomic.LoadInt64(&s.LookupHits),
	}
}

// HitRate 查找命中率
func (s *VersionPoolStats) HitRate() float64 {
	lookups := atomic.LoadInt64(&s.Lookups)
	if lookups == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&s.LookupHits)) / float64(lookups)
}
