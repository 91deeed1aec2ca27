package buffer_pool

import (
	"sort"
	"sync"

	"github.com/zhukovaskychina/xpagestore/server/common"
)

// PageVersion 某个版本提交的一页内容，内容只读
type PageVersion struct {
	PageNum uint64
	Version uint64
	Data    []byte
}

// VersionPool 已提交但尚未写回数据文件的页版本，按 (页号, 版本) 索引。
// 每页的版本按升序保存。
type VersionPool struct {
	mu       sync.RWMutex
	pages    map[uint64][]PageVersion
	versions map[uint64][]uint64
	last     uint64
	stats    VersionPoolStats
}

// NewVersionPool 创建版本池，last 为已经写入数据文件的版本
func NewVersionPool(last uint64) *VersionPool {
	return &VersionPool{
		pages:    make(map[uint64][]PageVersion),
		versions: make(map[uint64][]uint64),
		last:     last,
	}
}

// Register 登记 version 提交的页，version 必须大于之前登记的所有版本
func (p *VersionPool) Register(version uint64, pages map[uint64][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if version <= p.last {
		return NewError("Register", ErrVersionNotIncreasing)
	}
	nums := make([]uint64, 0, len(pages))
	for num, data := range pages {
		if len(data) != common.PAGE_SIZE {
			return NewError("Register", ErrInvalidPageSize)
		}
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	for _, num := range nums {
		p.pages[num] = append(p.pages[num], PageVersion{PageNum: num, Version: version, Data: pages[num]})
	}
	p.versions[version] = nums
	p.last = version
	p.stats.RecordRegister(len(nums))
	return nil
}

// Lookup 返回页在 maxVersion 及之前最新的版本
func (p *VersionPool) Lookup(pageNum, maxVersion uint64) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := p.pages[pageNum]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Version <= maxVersion {
			p.stats.RecordLookup(true)
			return list[i].Data, true
		}
	}
	p.stats.RecordLookup(false)
	return nil, false
}

// Has 页是否有不大于 maxVersion 的版本
func (p *VersionPool) Has(pageNum, maxVersion uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := p.pages[pageNum]
	return len(list) > 0 && list[0].Version <= maxVersion
}

// PagesOf 按页号顺序返回 version 提交的页
func (p *VersionPool) PagesOf(version uint64) []PageVersion {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nums := p.versions[version]
	out := make([]PageVersion, 0, len(nums))
	for _, num := range nums {
		for _, pv := range p.pages[num] {
			if pv.Version == version {
				out = append(out, pv)
				break
			}
		}
	}
	return out
}

// Contains version 是否仍在版本池中
func (p *VersionPool) Contains(version uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.versions[version]
	return ok
}

// Release 丢弃所有不大于 upTo 的版本
func (p *VersionPool) Release(upTo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	versions, released := 0, 0
	for v, nums := range p.versions {
		if v > upTo {
			continue
		}
		versions++
		for _, num := range nums {
			list := p.pages[num]
			keep := list[:0]
			for _, pv := range list {
				if pv.Version > upTo {
					keep = append(keep, pv)
				} else {
					released++
				}
			}
			if len(keep) == 0 {
				delete(p.pages, num)
			} else {
				p.pages[num] = keep
			}
		}
		delete(p.versions, v)
	}
	p.stats.RecordRelease(versions, released)
}

// Len 版本池中的版本数
func (p *VersionPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.versions)
}

// PageCount 版本池中的页版本数
func (p *VersionPool) PageCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, list := range p.pages {
		n += len(list)
	}
	return n
}

// Stats 统计信息
func (p *VersionPool) Stats() VersionPoolStats {
	return p.stats.Snapshot()
}
