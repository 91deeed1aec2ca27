package buffer_pool

import "errors"

var (
	// 版本必须严格递增
	ErrVersionNotIncreasing = errors.New("version is not greater than the last registered version")
	// 页内容长度必须为整页
	ErrInvalidPageSize = errors.New("invalid page size")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op  string // 操作名称
	Err error  // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, err error) error {
	return &BufferPoolError{
		Op:  op,
		Err: err,
	}
}
