package logs

import (
	"encoding/binary"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/util"
)

// 差异项: 偏移 u32 | 长度 i32，长度为负表示该范围填零且没有数据
const diffEntrySize = 8

const wordSize = 8

func word(b []byte, i int) uint64 {
	return binary.LittleEndian.Uint64(b[i*wordSize:])
}

// DiffPage 按 8 字节字比较 origin 与 modified，把差异写入 out。
// out 至少 PAGE_SIZE 字节。差异不小于整页或 origin 为 nil 时写入原始页，diff 返回 false。
func DiffPage(origin, modified, out []byte) (n int, diff bool) {
	if origin == nil {
		return copy(out, modified[:common.PAGE_SIZE]), false
	}
	words := common.PAGE_SIZE / wordSize
	pos := 0
	for i := 0; i < words; {
		if word(origin, i) == word(modified, i) {
			i++
			continue
		}
		start := i
		zeroes := word(modified, i) == 0
		for i < words {
			if zeroes {
				if word(modified, i) != 0 {
					break
				}
			} else if word(origin, i) == word(modified, i) {
				break
			}
			i++
		}
		length := (i - start) * wordSize
		need := diffEntrySize
		if !zeroes {
			need += length
		}
		if pos+need >= common.PAGE_SIZE {
			return copy(out, modified[:common.PAGE_SIZE]), false
		}
		util.PutUB4(out, pos, uint32(start*wordSize))
		if zeroes {
			util.PutUB4(out, pos+4, uint32(int32(-length)))
		} else {
			util.PutUB4(out, pos+4, uint32(int32(length)))
		}
		pos += diffEntrySize
		if !zeroes {
			pos += copy(out[pos:], modified[start*wordSize:i*wordSize])
		}
	}
	return pos, true
}

// ApplyDiff 把 DiffPage 生成的差异应用到 page
func ApplyDiff(payload, page []byte) error {
	for cursor := 0; cursor < len(payload); {
		if cursor+diffEntrySize > len(payload) {
			return basic.NewError(basic.ErrCorruption, "truncated diff entry at %d", cursor)
		}
		var off, raw uint32
		cursor, off = util.ReadUB4(payload, cursor)
		cursor, raw = util.ReadUB4(payload, cursor)
		length := int64(int32(raw))
		if length < 0 {
			end := int64(off) - length
			if end > int64(len(page)) {
				return basic.NewError(basic.ErrCorruption, "zero fill [%d, %d) exceeds page", off, end)
			}
			clear(page[off:end])
			continue
		}
		end := int64(off) + length
		if end > int64(len(page)) || cursor+int(length) > len(payload) {
			return basic.NewError(basic.ErrCorruption, "diff [%d, %d) exceeds page or payload", off, end)
		}
		copy(page[off:end], payload[cursor:cursor+int(length)])
		cursor += int(length)
	}
	return nil
}
