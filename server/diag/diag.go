package diag

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
)

const (
	// MaxErrors 诊断列表最多保留的条目数
	MaxErrors = 64
	// MaxMessageBytes 所有消息的总字节上限
	MaxMessageBytes = 2048
)

// Entry 一条诊断信息
type Entry struct {
	Code    syscall.Errno
	Message string
}

// List 有界的 (code, message) 列表。超出容量的条目被丢弃并记录溢出标记。
type List struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	bytes    int
	overflow bool
}

// Default 进程级诊断列表，pal 层失败时写入
var Default = New(MaxErrors)

// New 创建容量为 capacity 的诊断列表
func New(capacity int) *List {
	if capacity <= 0 {
		capacity = MaxErrors
	}
	return &List{capacity: capacity}
}

// Push 开始一条新的诊断，格式: func() - file:line - code (strerror) -
func (l *List) Push(file string, line int, fn string, code syscall.Errno) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries)+1 >= l.capacity {
		l.overflow = true
		return
	}
	msg := fmt.Sprintf("%s() - %s:%d - %3d (%s)", fn, filepath.Base(file), line, int(code), code.Error())
	if l.bytes+len(msg) > MaxMessageBytes {
		l.overflow = true
		msg = ""
	}
	l.bytes += len(msg)
	l.entries = append(l.entries, Entry{Code: code, Message: msg})
}

// Append 扩展最近一条诊断的消息，超出字节上限时忽略
func (l *List) Append(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return
	}
	if l.bytes+len(text)+3 > MaxMessageBytes {
		l.overflow = true
		return
	}
	last := &l.entries[len(l.entries)-1]
	if last.Message == "" {
		last.Message = text
	} else {
		last.Message += " - " + text
	}
	l.bytes += len(text) + 3
}

// Pushf 以调用者位置开始一条诊断并附加格式化消息
func (l *List) Pushf(code syscall.Errno, format string, args ...interface{}) {
	file, line, fn := caller(2)
	l.Push(file, line, fn, code)
	l.Append(fmt.Sprintf(format, args...))
}

// Count 当前条目数
func (l *List) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Codes 按顺序返回错误码
func (l *List) Codes() []syscall.Errno {
	l.mu.Lock()
	defer l.mu.Unlock()
	codes := make([]syscall.Errno, len(l.entries))
	for i, e := range l.entries {
		codes[i] = e.Code
	}
	return codes
}

// Messages 按顺序返回消息，溢出时追加一条提示
func (l *List) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := make([]string, 0, len(l.entries)+1)
	for _, e := range l.entries {
		msgs = append(msgs, e.Message)
	}
	if l.overflow {
		msgs = append(msgs, "too many errors, additional errors were discarded")
	}
	return msgs
}

// Overflowed 是否有条目被丢弃
func (l *List) Overflowed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overflow
}

// Clear 清空列表
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
	l.bytes = 0
	l.overflow = false
}

// Drain 读取并清空列表
func (l *List) Drain() ([]syscall.Errno, []string) {
	codes, msgs := l.Codes(), l.Messages()
	l.Clear()
	return codes, msgs
}

func caller(skip int) (string, int, string) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", 0, "unknown"
	}
	fn := runtime.FuncForPC(pc).Name()
	if idx := strings.LastIndex(fn, "."); idx >= 0 {
		fn = fn[idx+1:]
	}
	return file, line, fn
}
