package manager

import (
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/util"
)

// SpaceManager 分区空闲位图上的页分配器。
// 位图页通过写事务修改，提交前对其他事务不可见。
type SpaceManager struct {
	tx *Transaction
}

// SectionUsage 一个分区的使用情况
type SectionUsage struct {
	Section  uint64
	First    uint64
	Pages    uint64
	Capacity uint64
	Busy     uint64
}

// Free 空闲页数
func (u SectionUsage) Free() uint64 {
	return u.Capacity - u.Busy
}

// sectionLimit 分区内位于数据库范围中的页数
func sectionLimit(section, numberOfPages uint64) uint64 {
	base := common.SectionStart(section)
	if base >= numberOfPages {
		return 0
	}
	return min(common.PAGES_IN_SECTION, numberOfPages-base)
}

func reservedIn(base uint64) func(pos uint64) bool {
	return func(pos uint64) bool {
		return common.IsReservedPage(base + pos)
	}
}

// Allocate 首次适应：从 hint 所在分区开始按顺序查找，不跨越分区，找到后清零并加入脏页
func (sm *SpaceManager) Allocate(size, hint uint64) (basic.Page, error) {
	tx := sm.tx
	count := common.PagesFor(size)
	total := tx.numberOfPages
	sections := common.NumberOfSections(total)

	start := uint64(0)
	if hint < total {
		start = common.SectionOf(hint)
	}
	fits := false
	for i := uint64(0); i < sections; i++ {
		s := (start + i) % sections
		if count > common.SectionCapacity(s) {
			continue
		}
		fits = true
		limit := sectionLimit(s, total)
		bitmapNum := common.BitmapPageOf(s)
		if bitmapNum >= total {
			continue
		}
		base := common.SectionStart(s)
		bitmap := tx.readPage(bitmapNum)
		pos, ok := util.FindClearRun(bitmap, 0, limit, count, reservedIn(base))
		if !ok {
			continue
		}
		bm := tx.modifyPages(bitmapNum, 1)
		for j := uint64(0); j < count; j++ {
			util.SetBit(bm, pos+j)
		}
		buf := tx.modifyPages(base+pos, count)
		clear(buf)
		return basic.Page{Number: base + pos, Count: uint32(count), Data: buf}, nil
	}
	if !fits {
		return basic.Page{}, basic.NewError(basic.ErrOutOfSpace,
			"allocation of %d pages exceeds the capacity of a section", count)
	}
	return basic.Page{}, basic.NewError(basic.ErrOutOfSpace,
		"no run of %d free pages in %d pages", count, total)
}

// Free 清除位图并清零整段页，页必须处于占用状态
func (sm *SpaceManager) Free(page basic.Page) error {
	tx := sm.tx
	n := page.Pages()
	if err := sm.checkRun(page.Number, n); err != nil {
		return err
	}
	s := common.SectionOf(page.Number)
	base := common.SectionStart(s)
	bitmapNum := common.BitmapPageOf(s)
	bitmap := tx.readPage(bitmapNum)
	for i := uint64(0); i < n; i++ {
		if !util.IsBitSet(bitmap, page.Number-base+i) {
			return basic.NewError(basic.ErrInvalidArgument, "page %d is not allocated", page.Number+i)
		}
	}
	bm := tx.modifyPages(bitmapNum, 1)
	for i := uint64(0); i < n; i++ {
		util.ClearBit(bm, page.Number-base+i)
	}
	clear(tx.modifyPages(page.Number, n))
	return nil
}

// checkRun 页段必须在数据库范围内，位于同一分区且不含保留页
func (sm *SpaceManager) checkRun(num, count uint64) error {
	if num+count > sm.tx.numberOfPages {
		return basic.NewError(basic.ErrInvalidArgument, "pages [%d, %d) beyond %d pages",
			num, num+count, sm.tx.numberOfPages)
	}
	if common.SectionOf(num) != common.SectionOf(num+count-1) {
		return basic.NewError(basic.ErrInvalidArgument, "pages [%d, %d) cross a section boundary", num, num+count)
	}
	for i := uint64(0); i < count; i++ {
		if common.IsReservedPage(num + i) {
			return basic.NewError(basic.ErrInvalidArgument, "page %d is reserved", num+i)
		}
	}
	return nil
}

// IsPageBusy 页是否已分配，保留页总是占用
func (sm *SpaceManager) IsPageBusy(num uint64) (bool, error) {
	if num >= sm.tx.numberOfPages {
		return false, basic.NewError(basic.ErrInvalidArgument, "page %d beyond %d pages", num, sm.tx.numberOfPages)
	}
	if common.IsReservedPage(num) {
		return true, nil
	}
	s := common.SectionOf(num)
	bitmap := sm.tx.readPage(common.BitmapPageOf(s))
	return util.IsBitSet(bitmap, num-common.SectionStart(s)), nil
}

// Usage 每个分区的占用统计
func (sm *SpaceManager) Usage() []SectionUsage {
	total := sm.tx.numberOfPages
	sections := common.NumberOfSections(total)
	out := make([]SectionUsage, 0, sections)
	for s := uint64(0); s < sections; s++ {
		base := common.SectionStart(s)
		limit := sectionLimit(s, total)
		u := SectionUsage{Section: s, First: base, Pages: limit}
		skip := reservedIn(base)
		for pos := uint64(0); pos < limit; pos++ {
			if !skip(pos) {
				u.Capacity++
			}
		}
		if bitmapNum := common.BitmapPageOf(s); bitmapNum < total {
			u.Busy = util.CountSetBits(sm.tx.readPage(bitmapNum), limit)
		}
		out = append(out, u)
	}
	return out
}
