package conf

import (
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

// 支持的 WAL 压缩算法
const (
	CompressionLZ4    = "lz4"
	CompressionSnappy = "snappy"
	CompressionNone   = "none"
)

// WalWriteCallback 每次 WAL 记录落盘后调用，record 为完整的记录字节
type WalWriteCallback func(version uint64, record []byte)

// Options 数据库打开选项
type Options struct {
	// MinimumSize 初始数据文件大小，按页或分区向上取整
	MinimumSize uint64
	// MaximumSize 数据文件上限，0 表示不限制
	MaximumSize uint64
	// WalSize 单个 WAL 文件的初始大小，也是轮换阈值的基准
	WalSize uint64
	// Compression WAL 记录体的压缩算法
	Compression string

	WalWriteCallback WalWriteCallback
}

// DefaultOptions 默认选项
func DefaultOptions() Options {
	return Options{
		MinimumSize: common.MINIMUM_FILE_SIZE,
		WalSize:     common.DEFAULT_WAL_SIZE,
		Compression: CompressionLZ4,
	}
}

// Normalize 填充默认值并校验
func (o *Options) Normalize() error {
	if o.MinimumSize == 0 {
		o.MinimumSize = common.MINIMUM_FILE_SIZE
	}
	if o.WalSize == 0 {
		o.WalSize = common.DEFAULT_WAL_SIZE
	}
	o.Compression = strings.ToLower(strings.TrimSpace(o.Compression))
	if o.Compression == "" {
		o.Compression = CompressionLZ4
	}

	if o.MinimumSize < common.MINIMUM_FILE_SIZE {
		return basic.NewError(basic.ErrInvalidArgument, "minimum size %s is below %s",
			humanize.IBytes(o.MinimumSize), humanize.IBytes(common.MINIMUM_FILE_SIZE))
	}
	if o.WalSize%common.PAGE_SIZE != 0 {
		return basic.NewError(basic.ErrInvalidArgument, "wal size %d is not a multiple of the page size", o.WalSize)
	}
	if o.MaximumSize != 0 && o.MaximumSize < o.MinimumSize {
		return basic.NewError(basic.ErrInvalidArgument, "maximum size %s is below minimum size %s",
			humanize.IBytes(o.MaximumSize), humanize.IBytes(o.MinimumSize))
	}
	switch o.Compression {
	case CompressionLZ4, CompressionSnappy, CompressionNone:
	default:
		return basic.NewError(basic.ErrInvalidArgument, "unknown compression %q", o.Compression)
	}
	return nil
}

// MaximumPages 文件上限对应的页数，0 表示不限制
func (o *Options) MaximumPages() uint64 {
	return o.MaximumSize / common.PAGE_SIZE
}
