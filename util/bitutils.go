package util

// 位图按字节寻址，第 pos 位位于 buf[pos/8] 的第 pos%8 位

// SetBit 置位
func SetBit(buf []byte, pos uint64) {
	buf[pos>>3] |= 1 << (pos & 7)
}

// ClearBit 清位
func ClearBit(buf []byte, pos uint64) {
	buf[pos>>3] &^= 1 << (pos & 7)
}

// IsBitSet 判断是否置位
func IsBitSet(buf []byte, pos uint64) bool {
	return buf[pos>>3]&(1<<(pos&7)) != 0
}

// CountSetBits 统计 [0, limit) 范围内置位的数量
func CountSetBits(buf []byte, limit uint64) uint64 {
	var n uint64
	for pos := uint64(0); pos < limit; pos++ {
		if IsBitSet(buf, pos) {
			n++
		}
	}
	return n
}

// FindClearRun 在 [from, limit) 内查找第一段长度为 count 的连续空闲位，
// skip 返回 true 的位置视为占用。找不到时返回 false。
func FindClearRun(buf []byte, from, limit, count uint64, skip func(pos uint64) bool) (uint64, bool) {
	if count == 0 {
		return 0, false
	}
	var start, run uint64
	for pos := from; pos < limit; pos++ {
		if IsBitSet(buf, pos) || (skip != nil && skip(pos)) {
			run = 0
			continue
		}
		if run == 0 {
			start = pos
		}
		run++
		if run == count {
			return start, true
		}
	}
	return 0, false
}
