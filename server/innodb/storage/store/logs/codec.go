package logs

import (
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

// Codec 压缩记录体。Compress 在压缩后没有变小时返回 false。
type Codec interface {
	ID() uint8
	Name() string
	Compress(src []byte) ([]byte, bool)
	Decompress(src []byte, rawSize int) ([]byte, error)
}

// CodecByName 按名称查找压缩算法
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "lz4":
		return lz4Codec{}, nil
	case "snappy":
		return snappyCodec{}, nil
	case "none":
		return noneCodec{}, nil
	}
	return nil, basic.NewError(basic.ErrInvalidArgument, "unknown compression %q", name)
}

// CodecByID 按记录头中的编号查找压缩算法
func CodecByID(id uint8) (Codec, error) {
	switch id {
	case CODEC_LZ4:
		return lz4Codec{}, nil
	case CODEC_SNAPPY:
		return snappyCodec{}, nil
	case CODEC_NONE:
		return noneCodec{}, nil
	}
	return nil, basic.NewError(basic.ErrCorruption, "unknown codec id %d", id)
}

type lz4Codec struct{}

func (lz4Codec) ID() uint8    { return CODEC_LZ4 }
func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst)
	if err != nil || n == 0 || n >= len(src) {
		return nil, false
	}
	return dst[:n], true
}

func (lz4Codec) Decompress(src []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, basic.NewError(basic.ErrCorruption, "lz4: %v", err)
	}
	if n != rawSize {
		return nil, basic.NewError(basic.ErrCorruption, "lz4: expected %d bytes, got %d", rawSize, n)
	}
	return dst, nil
}

type snappyCodec struct{}

func (snappyCodec) ID() uint8    { return CODEC_SNAPPY }
func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(src []byte) ([]byte, bool) {
	dst := snappy.Encode(nil, src)
	if len(dst) >= len(src) {
		return nil, false
	}
	return dst, true
}

func (snappyCodec) Decompress(src []byte, rawSize int) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, basic.NewError(basic.ErrCorruption, "snappy: %v", err)
	}
	if n != rawSize {
		return nil, basic.NewError(basic.ErrCorruption, "snappy: expected %d bytes, got %d", rawSize, n)
	}
	dst, err := snappy.Decode(make([]byte, n), src)
	if err != nil {
		return nil, basic.NewError(basic.ErrCorruption, "snappy: %v", err)
	}
	return dst, nil
}

type noneCodec struct{}

func (noneCodec) ID() uint8                          { return CODEC_NONE }
func (noneCodec) Name() string                       { return "none" }
func (noneCodec) Compress(src []byte) ([]byte, bool) { return nil, false }

func (noneCodec) Decompress(src []byte, rawSize int) ([]byte, error) {
	if len(src) != rawSize {
		return nil, basic.NewError(basic.ErrCorruption, "expected %d bytes, got %d", rawSize, len(src))
	}
	return src, nil
}
