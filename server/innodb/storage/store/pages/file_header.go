package pages

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/util"
)

// 文件头保存在页 0，两份副本分别位于页内偏移 0 与 PAGE_SIZE/2
const (
	FILE_HEADER_SIZE      = 64
	FILE_HEADER_COPY_OFF  = common.PAGE_SIZE / 2
	FILE_FORMAT_VERSION   = 1
	fileHeaderChecksumOff = FILE_HEADER_SIZE - 8
)

var fileMagic = []byte("XPGSTORE")

// FileHeader 数据文件头
//
//	magic[8] | format u32 | page size u32 | database id[16] |
//	number of pages u64 | last version u64 | sections u64 | xxhash64 u64
type FileHeader struct {
	FormatVersion uint32
	PageSize      uint32
	DatabaseID    uuid.UUID
	NumberOfPages uint64
	LastVersion   uint64
	Sections      uint64
}

// NewFileHeader 新数据库的文件头
func NewFileHeader(numberOfPages uint64) FileHeader {
	return FileHeader{
		FormatVersion: FILE_FORMAT_VERSION,
		PageSize:      common.PAGE_SIZE,
		DatabaseID:    uuid.New(),
		NumberOfPages: numberOfPages,
		Sections:      common.NumberOfSections(numberOfPages),
	}
}

func (h *FileHeader) encode() []byte {
	buf := make([]byte, 0, FILE_HEADER_SIZE)
	buf = util.WriteBytes(buf, fileMagic)
	buf = util.WriteUB4(buf, h.FormatVersion)
	buf = util.WriteUB4(buf, h.PageSize)
	buf = util.WriteBytes(buf, h.DatabaseID[:])
	buf = util.WriteUB8(buf, h.NumberOfPages)
	buf = util.WriteUB8(buf, h.LastVersion)
	buf = util.WriteUB8(buf, h.Sections)
	return util.WriteUB8(buf, util.HashCode(buf))
}

// WriteTo 将两份副本写入页 0 的内容
func (h *FileHeader) WriteTo(page []byte) {
	h.Sections = common.NumberOfSections(h.NumberOfPages)
	raw := h.encode()
	copy(page[0:FILE_HEADER_SIZE], raw)
	copy(page[FILE_HEADER_COPY_OFF:FILE_HEADER_COPY_OFF+FILE_HEADER_SIZE], raw)
}

func decodeFileHeader(raw []byte) (FileHeader, bool) {
	var h FileHeader
	if !bytes.Equal(raw[:8], fileMagic) {
		return h, false
	}
	_, sum := util.ReadUB8(raw, fileHeaderChecksumOff)
	if util.HashCode(raw[:fileHeaderChecksumOff]) != sum {
		return h, false
	}
	cursor := 8
	cursor, h.FormatVersion = util.ReadUB4(raw, cursor)
	cursor, h.PageSize = util.ReadUB4(raw, cursor)
	cursor, id := util.ReadBytes(raw, cursor, 16)
	copy(h.DatabaseID[:], id)
	cursor, h.NumberOfPages = util.ReadUB8(raw, cursor)
	cursor, h.LastVersion = util.ReadUB8(raw, cursor)
	_, h.Sections = util.ReadUB8(raw, cursor)
	return h, true
}

// ReadFileHeader 读取页 0，两份副本都有效时取 LastVersion 较大者
func ReadFileHeader(page []byte) (FileHeader, error) {
	if len(page) < common.PAGE_SIZE {
		return FileHeader{}, basic.NewError(basic.ErrCorruption, "header page is %d bytes", len(page))
	}
	first, okFirst := decodeFileHeader(page[0:FILE_HEADER_SIZE])
	second, okSecond := decodeFileHeader(page[FILE_HEADER_COPY_OFF : FILE_HEADER_COPY_OFF+FILE_HEADER_SIZE])
	switch {
	case okFirst && okSecond:
		if second.LastVersion > first.LastVersion {
			first = second
		}
	case okSecond:
		first = second
	case !okFirst:
		return FileHeader{}, basic.NewError(basic.ErrCorruption, "neither file header copy is valid")
	}
	if first.PageSize != common.PAGE_SIZE {
		return FileHeader{}, basic.NewError(basic.ErrCorruption, "unsupported page size %d", first.PageSize)
	}
	if first.FormatVersion != FILE_FORMAT_VERSION {
		return FileHeader{}, basic.NewError(basic.ErrCorruption, "unsupported format version %d", first.FormatVersion)
	}
	return first, nil
}

// IsBlank 页 0 是否从未写入
func IsBlank(page []byte) bool {
	for _, b := range page[:FILE_HEADER_SIZE] {
		if b != 0 {
			return false
		}
	}
	for _, b := range page[FILE_HEADER_COPY_OFF : FILE_HEADER_COPY_OFF+FILE_HEADER_SIZE] {
		if b != 0 {
			return false
		}
	}
	return true
}
