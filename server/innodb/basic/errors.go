package basic

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	jujuerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xpagestore/server/diag"
)

// 错误种类
var (
	// 文件存储失败：权限、非目录、磁盘已满等
	ErrIOError = errors.New("io error")
	// 当前范围内无法满足分配
	ErrOutOfSpace = errors.New("no space left in the data file")
	// 已存在活动的写事务
	ErrWriteConflict = errors.New("a write transaction is already open")
	// 事务或数据库已关闭、已提交
	ErrInvalidState = errors.New("invalid transaction state")
	// WAL 校验或长度不一致
	ErrCorruption = errors.New("corruption detected")
	// 参数或选项不合法
	ErrInvalidArgument = errors.New("invalid argument")
)

// EngineError 携带错误种类、系统错误码与按顺序追加的上下文消息
type EngineError struct {
	Kind     error
	Code     syscall.Errno
	Messages []string
}

func (e *EngineError) Error() string {
	if e == nil || e.Kind == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Code != 0 {
		fmt.Fprintf(&b, " (errno %d: %s)", int(e.Code), e.Code.Error())
	}
	for _, m := range e.Messages {
		b.WriteString("; ")
		b.WriteString(m)
	}
	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Kind
}

// NewError 创建指定种类的错误
func NewError(kind error, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Messages: []string{fmt.Sprintf(format, args...)}}
}

// With 追加一条上下文消息
func (e *EngineError) With(format string, args ...interface{}) *EngineError {
	e.Messages = append(e.Messages, fmt.Sprintf(format, args...))
	return e
}

// FromDiag 将诊断列表中的待处理条目转换为 IO 错误并清空列表。
// 列表为空时使用 cause 本身的信息。
func FromDiag(list *diag.List, cause error) error {
	codes, msgs := list.Drain()
	e := &EngineError{Kind: ErrIOError}
	if len(codes) > 0 {
		e.Code = codes[0]
	}
	e.Messages = append(e.Messages, msgs...)
	if cause != nil {
		if e.Code == 0 {
			var errno syscall.Errno
			if errors.As(cause, &errno) {
				e.Code = errno
			} else {
				e.Code = syscall.EIO
			}
		}
		if len(msgs) == 0 {
			e.Messages = append(e.Messages, cause.Error())
		}
	}
	return e
}

// KindOf 返回错误种类，未知错误返回 nil
func KindOf(err error) error {
	for _, kind := range []error{ErrIOError, ErrOutOfSpace, ErrWriteConflict, ErrInvalidState, ErrCorruption, ErrInvalidArgument} {
		if is(err, kind) {
			return kind
		}
	}
	return nil
}

// CodeOf 返回错误携带的系统错误码
func CodeOf(err error) syscall.Errno {
	var e *EngineError
	if errors.As(err, &e) || errors.As(jujuerrors.Cause(err), &e) {
		return e.Code
	}
	return 0
}

func is(err, kind error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, kind) || errors.Is(jujuerrors.Cause(err), kind)
}

// IsIOError 检查是否为IO错误
func IsIOError(err error) bool {
	return is(err, ErrIOError)
}

// IsOutOfSpace 检查是否为空间不足错误
func IsOutOfSpace(err error) bool {
	return is(err, ErrOutOfSpace)
}

// IsWriteConflict 检查是否为写事务冲突
func IsWriteConflict(err error) bool {
	return is(err, ErrWriteConflict)
}

// IsInvalidState 检查是否为状态错误
func IsInvalidState(err error) bool {
	return is(err, ErrInvalidState)
}

// IsCorruption 检查是否为数据损坏
func IsCorruption(err error) bool {
	return is(err, ErrCorruption)
}

// IsInvalidArgument 检查是否为参数错误
func IsInvalidArgument(err error) bool {
	return is(err, ErrInvalidArgument)
}
