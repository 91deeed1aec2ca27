package util

// 小端序追加写入

func WriteBytes(buf []byte, from []byte) []byte {
	return append(buf, from...)
}

func WriteUB4(buf []byte, i uint32) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	return buf
}

func WriteUB8(buf []byte, i uint64) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	buf = append(buf, byte((i>>32)&0xFF))
	buf = append(buf, byte((i>>40)&0xFF))
	buf = append(buf, byte((i>>48)&0xFF))
	buf = append(buf, byte((i>>56)&0xFF))
	return buf
}

// PutUB4 在固定位置写入，返回下一个游标
func PutUB4(buf []byte, cursor int, i uint32) int {
	buf[cursor] = byte(i)
	buf[cursor+1] = byte(i >> 8)
	buf[cursor+2] = byte(i >> 16)
	buf[cursor+3] = byte(i >> 24)
	return cursor + 4
}

// PutUB8 在固定位置写入，返回下一个游标
func PutUB8(buf []byte, cursor int, i uint64) int {
	for n := 0; n < 8; n++ {
		buf[cursor+n] = byte(i >> (8 * n))
	}
	return cursor + 8
}
