package logs

import (
	"bytes"
	"errors"
	"sort"

	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/zeebo/blake3"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/util"
)

// ErrEndOfLog 记录头全零，日志到此为止
var ErrEndOfLog = errors.New("end of wal")

// PageImage 提交时的一个脏页：Previous 为修改前内容，nil 表示没有前像
type PageImage struct {
	PageNum  uint64
	Previous []byte
	Data     []byte
}

// RecordHeader 记录头
type RecordHeader struct {
	Version     uint64
	AlignedSize uint64
	UsedSize    uint64
	TotalPages  uint64
	PageCount   uint32
	BodySize    uint32
	Flags       uint8
	Codec       uint8
}

// RecordPage 记录中的一页
type RecordPage struct {
	PageNum uint64
	Flags   uint32
	Payload []byte
}

// Record 解码后的记录
type Record struct {
	RecordHeader
	Pages []RecordPage
}

// Encode 把一个事务的脏页编码为按 4096 对齐的 WAL 记录。pages 按页号排序。
func Encode(version, totalPages uint64, pages []PageImage, codec Codec) []byte {
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNum < pages[j].PageNum })

	tableSize := len(pages) * PAGE_ENTRY_SIZE
	need := tableSize + len(pages)*common.PAGE_SIZE
	bufp := gxbytes.GetBytes(need)
	defer gxbytes.PutBytes(bufp)
	body := (*bufp)[:need]

	pos := tableSize
	for i, p := range pages {
		n, isDiff := DiffPage(p.Previous, p.Data, body[pos:])
		flags := WAL_PAGE_FLAG_RAW
		if isDiff {
			flags = WAL_PAGE_FLAG_DIFF
		}
		entry := i * PAGE_ENTRY_SIZE
		entry = util.PutUB8(body, entry, p.PageNum)
		entry = util.PutUB4(body, entry, uint32(pos))
		entry = util.PutUB4(body, entry, uint32(n))
		entry = util.PutUB4(body, entry, flags)
		util.PutUB4(body, entry, 0)
		pos += n
	}
	body = body[:pos]

	hdr := RecordHeader{
		Version:    version,
		TotalPages: totalPages,
		PageCount:  uint32(len(pages)),
		BodySize:   uint32(len(body)),
		Codec:      CODEC_NONE,
	}
	payload := body
	if codec != nil {
		if compressed, ok := codec.Compress(body); ok {
			payload = compressed
			hdr.Flags = WAL_RECORD_FLAG_COMPRESSED
			hdr.Codec = codec.ID()
		}
	}
	hdr.UsedSize = uint64(RECORD_HEADER_SIZE + len(payload))
	hdr.AlignedSize = util.AlignUp(hdr.UsedSize, common.WRITE_ALIGNMENT)

	record := make([]byte, hdr.AlignedSize)
	hdr.put(record)
	copy(record[RECORD_HEADER_SIZE:], payload)
	sum := blake3.Sum256(record[RECORD_HASH_SIZE:])
	copy(record[:RECORD_HASH_SIZE], sum[:])
	return record
}

func (h *RecordHeader) put(buf []byte) {
	cursor := RECORD_HASH_SIZE
	cursor = util.PutUB8(buf, cursor, h.Version)
	cursor = util.PutUB8(buf, cursor, h.AlignedSize)
	cursor = util.PutUB8(buf, cursor, h.UsedSize)
	cursor = util.PutUB8(buf, cursor, h.TotalPages)
	cursor = util.PutUB4(buf, cursor, h.PageCount)
	cursor = util.PutUB4(buf, cursor, h.BodySize)
	buf[cursor] = h.Flags
	buf[cursor+1] = h.Codec
}

// ParseHeader 解析并校验记录头中的长度字段，不校验哈希
func ParseHeader(buf []byte) (RecordHeader, error) {
	var h RecordHeader
	if len(buf) < RECORD_HEADER_SIZE {
		return h, basic.NewError(basic.ErrCorruption, "truncated record header (%d bytes)", len(buf))
	}
	if isZero(buf[:RECORD_HEADER_SIZE]) {
		return h, ErrEndOfLog
	}
	cursor := RECORD_HASH_SIZE
	cursor, h.Version = util.ReadUB8(buf, cursor)
	cursor, h.AlignedSize = util.ReadUB8(buf, cursor)
	cursor, h.UsedSize = util.ReadUB8(buf, cursor)
	cursor, h.TotalPages = util.ReadUB8(buf, cursor)
	cursor, h.PageCount = util.ReadUB4(buf, cursor)
	cursor, h.BodySize = util.ReadUB4(buf, cursor)
	h.Flags = buf[cursor]
	h.Codec = buf[cursor+1]

	switch {
	case h.Version == 0:
		return h, basic.NewError(basic.ErrCorruption, "record without version")
	case h.AlignedSize == 0 || h.AlignedSize%common.WRITE_ALIGNMENT != 0:
		return h, basic.NewError(basic.ErrCorruption, "record size %d is not aligned", h.AlignedSize)
	case h.UsedSize < RECORD_HEADER_SIZE || h.UsedSize > h.AlignedSize:
		return h, basic.NewError(basic.ErrCorruption, "record used size %d out of range", h.UsedSize)
	case uint64(h.PageCount)*PAGE_ENTRY_SIZE > uint64(h.BodySize):
		return h, basic.NewError(basic.ErrCorruption, "page table of %d entries exceeds body", h.PageCount)
	case uint64(h.BodySize) > uint64(h.PageCount)*(PAGE_ENTRY_SIZE+common.PAGE_SIZE):
		return h, basic.NewError(basic.ErrCorruption, "body size %d too large", h.BodySize)
	}
	return h, nil
}

// Decode 校验并解码 buf 开头的一条记录。buf 可以比记录长。
func Decode(buf []byte) (*Record, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if uint64(len(buf)) < h.AlignedSize {
		return nil, basic.NewError(basic.ErrCorruption, "record of version %d truncated: need %d bytes, have %d",
			h.Version, h.AlignedSize, len(buf))
	}
	raw := buf[:h.AlignedSize]
	sum := blake3.Sum256(raw[RECORD_HASH_SIZE:])
	if !bytes.Equal(sum[:], raw[:RECORD_HASH_SIZE]) {
		return nil, basic.NewError(basic.ErrCorruption, "record of version %d has a hash mismatch", h.Version)
	}

	body := raw[RECORD_HEADER_SIZE:h.UsedSize]
	if h.Flags&WAL_RECORD_FLAG_COMPRESSED != 0 {
		codec, err := CodecByID(h.Codec)
		if err != nil {
			return nil, err
		}
		if body, err = codec.Decompress(body, int(h.BodySize)); err != nil {
			return nil, err
		}
	} else if len(body) != int(h.BodySize) {
		return nil, basic.NewError(basic.ErrCorruption, "body is %d bytes, header says %d", len(body), h.BodySize)
	}

	rec := &Record{RecordHeader: h, Pages: make([]RecordPage, 0, h.PageCount)}
	for i := 0; i < int(h.PageCount); i++ {
		cursor := i * PAGE_ENTRY_SIZE
		var p RecordPage
		var off, length uint32
		cursor, p.PageNum = util.ReadUB8(body, cursor)
		cursor, off = util.ReadUB4(body, cursor)
		cursor, length = util.ReadUB4(body, cursor)
		_, p.Flags = util.ReadUB4(body, cursor)
		if uint64(off)+uint64(length) > uint64(len(body)) {
			return nil, basic.NewError(basic.ErrCorruption, "page %d payload exceeds body", p.PageNum)
		}
		if p.Flags == WAL_PAGE_FLAG_RAW && length != common.PAGE_SIZE {
			return nil, basic.NewError(basic.ErrCorruption, "raw page %d has %d bytes", p.PageNum, length)
		}
		if p.PageNum >= h.TotalPages {
			return nil, basic.NewError(basic.ErrCorruption, "page %d beyond database size %d", p.PageNum, h.TotalPages)
		}
		p.Payload = body[off : off+length]
		rec.Pages = append(rec.Pages, p)
	}
	return rec, nil
}

// Apply 把记录中的页写入 page，page 为该页修改前的内容
func (p *RecordPage) Apply(page []byte) error {
	if p.Flags == WAL_PAGE_FLAG_RAW {
		copy(page, p.Payload)
		return nil
	}
	return ApplyDiff(p.Payload, page)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
