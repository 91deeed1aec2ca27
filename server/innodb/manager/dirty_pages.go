package manager

import (
	"sort"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/logs"
)

// zeroPage 从未写入过的页的内容，只读
var zeroPage = make([]byte, common.PAGE_SIZE)

// pageRun 一段连续脏页共享的缓冲区
type pageRun struct {
	first uint64
	count uint64
	buf   []byte
}

// dirtyPage 写事务修改过的页。previous 为第一次修改前的内容。
type dirtyPage struct {
	data     []byte
	previous []byte
	run      *pageRun
}

// dirtyPages 写事务的脏页集合，每页最多出现一次
type dirtyPages struct {
	pages map[uint64]*dirtyPage
}

func newDirtyPages() *dirtyPages {
	return &dirtyPages{pages: make(map[uint64]*dirtyPage)}
}

func (d *dirtyPages) Len() int {
	return len(d.pages)
}

func (d *dirtyPages) get(num uint64) ([]byte, bool) {
	dp, ok := d.pages[num]
	if !ok {
		return nil, false
	}
	return dp.data, true
}

// span 已在同一缓冲区内连续的脏页直接返回该缓冲区的切片
func (d *dirtyPages) span(num, count uint64) ([]byte, bool) {
	first, ok := d.pages[num]
	if !ok {
		return nil, false
	}
	run := first.run
	if num < run.first || num+count > run.first+run.count {
		return nil, false
	}
	for i := uint64(1); i < count; i++ {
		dp, ok := d.pages[num+i]
		if !ok || dp.run != run {
			return nil, false
		}
	}
	off := (num - run.first) * common.PAGE_SIZE
	return run.buf[off : off+count*common.PAGE_SIZE], true
}

// modify 返回 [num, num+count) 的可写缓冲区。
// 不在集合中的页从 base 复制；已有的页被搬到新的连续缓冲区，原来返回的切片随之失效。
func (d *dirtyPages) modify(num, count uint64, base func(uint64) []byte) []byte {
	if buf, ok := d.span(num, count); ok {
		return buf
	}
	run := &pageRun{first: num, count: count, buf: make([]byte, count*common.PAGE_SIZE)}
	for i := uint64(0); i < count; i++ {
		dst := run.buf[i*common.PAGE_SIZE : (i+1)*common.PAGE_SIZE]
		if dp, ok := d.pages[num+i]; ok {
			copy(dst, dp.data)
			dp.data = dst
			dp.run = run
			continue
		}
		prev := base(num + i)
		copy(dst, prev)
		d.pages[num+i] = &dirtyPage{data: dst, previous: prev, run: run}
	}
	return run.buf
}

// numbers 按页号排序
func (d *dirtyPages) numbers() []uint64 {
	nums := make([]uint64, 0, len(d.pages))
	for num := range d.pages {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// images 编码 WAL 记录所需的前后像
func (d *dirtyPages) images() []logs.PageImage {
	out := make([]logs.PageImage, 0, len(d.pages))
	for _, num := range d.numbers() {
		dp := d.pages[num]
		out = append(out, logs.PageImage{PageNum: num, Previous: dp.previous, Data: dp.data})
	}
	return out
}

// dataMap 提交后登记到版本池的页内容
func (d *dirtyPages) dataMap() map[uint64][]byte {
	out := make(map[uint64][]byte, len(d.pages))
	for num, dp := range d.pages {
		out[num] = dp.data
	}
	return out
}

func (d *dirtyPages) reset() {
	d.pages = make(map[uint64]*dirtyPage)
}
