package basic

import "github.com/zhukovaskychina/xpagestore/server/common"

// Page 一个页或一段连续页。Count 大于 1 时为溢出页，通过首页号寻址。
type Page struct {
	Number uint64
	Count  uint32
	Data   []byte
}

// Pages 页数，至少为 1
func (p Page) Pages() uint64 {
	if p.Count == 0 {
		return 1
	}
	return uint64(p.Count)
}

// Size 字节大小
func (p Page) Size() uint64 {
	return p.Pages() * common.PAGE_SIZE
}

// Last 最后一页的页号
func (p Page) Last() uint64 {
	return p.Number + p.Pages() - 1
}
