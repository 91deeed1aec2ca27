//go:build unix

// Package pal 文件存储层：创建、增长、映射、写入与同步数据文件。
// 所有失败都会写入 diag.Default 并返回错误。
package pal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/zhukovaskychina/xpagestore/server/diag"
	"github.com/zhukovaskychina/xpagestore/util"
)

// FileHandle 打开的数据文件
type FileHandle struct {
	file *os.File
	path string
}

// Mapping 只读共享内存映射
type Mapping struct {
	Data   []byte
	Offset uint64
}

// Size 映射长度
func (m *Mapping) Size() uint64 {
	if m == nil {
		return 0
	}
	return uint64(len(m.Data))
}

// CreateFile 打开或创建文件，新建时同步父目录
func CreateFile(path string) (*FileHandle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fail(err, "CreateFile", "unable to resolve path %s", path)
	}
	if err := util.EnsureDir(abs); err != nil {
		return nil, fail(err, "CreateFile", "unable to create directory for %s", abs)
	}
	existed, err := util.PathExists(abs)
	if err != nil {
		return nil, fail(err, "CreateFile", "unable to stat %s", abs)
	}
	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fail(err, "CreateFile", "unable to open %s", abs)
	}
	if !existed {
		if err := syncDir(filepath.Dir(abs)); err != nil {
			f.Close()
			return nil, fail(err, "CreateFile", "unable to fsync directory of %s", abs)
		}
	}
	return &FileHandle{file: f, path: abs}, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Filename 文件绝对路径
func (h *FileHandle) Filename() string {
	return h.path
}

// Close 关闭文件
func (h *FileHandle) Close() error {
	if h == nil || h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	if err != nil {
		return fail(err, "Close", "unable to close %s", h.path)
	}
	return nil
}

// Size 当前文件大小
func (h *FileHandle) Size() (uint64, error) {
	st, err := h.file.Stat()
	if err != nil {
		return 0, fail(err, "Size", "unable to stat %s", h.path)
	}
	return uint64(st.Size()), nil
}

// SetMinSize 文件小于 size 时扩展到 size，只增不减
func (h *FileHandle) SetMinSize(size uint64) error {
	cur, err := h.Size()
	if err != nil {
		return err
	}
	if cur >= size {
		return nil
	}
	if err := h.file.Truncate(int64(size)); err != nil {
		return fail(err, "SetMinSize", "unable to extend %s to %d bytes", h.path, size)
	}
	return h.Sync()
}

// Truncate 将文件设置为 size 字节
func (h *FileHandle) Truncate(size uint64) error {
	if err := h.file.Truncate(int64(size)); err != nil {
		return fail(err, "Truncate", "unable to truncate %s to %d bytes", h.path, size)
	}
	return nil
}

// Map 以只读共享方式映射 [offset, offset+size)
func (h *FileHandle) Map(offset, size uint64) (*Mapping, error) {
	if size == 0 {
		return nil, fail(syscall.EINVAL, "Map", "cannot map zero bytes of %s", h.path)
	}
	data, err := unix.Mmap(int(h.file.Fd()), int64(offset), int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fail(err, "Map", "unable to mmap %s offset=%d size=%d", h.path, offset, size)
	}
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return &Mapping{Data: data, Offset: offset}, nil
}

// Unmap 解除映射
func Unmap(m *Mapping) error {
	if m == nil || m.Data == nil {
		return nil
	}
	if err := unix.Munmap(m.Data); err != nil {
		return fail(err, "Unmap", "unable to munmap %d bytes", len(m.Data))
	}
	m.Data = nil
	return nil
}

// WriteAt 写入全部字节
func (h *FileHandle) WriteAt(offset uint64, data []byte) error {
	for len(data) > 0 {
		n, err := h.file.WriteAt(data, int64(offset))
		if err != nil {
			return fail(err, "WriteAt", "unable to write %d bytes to %s at %d", len(data), h.path, offset)
		}
		data = data[n:]
		offset += uint64(n)
	}
	return nil
}

// ReadAt 读取 len(buf) 字节，文件末尾之后的部分保持为零
func (h *FileHandle) ReadAt(offset uint64, buf []byte) (int, error) {
	n, err := h.file.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fail(err, "ReadAt", "unable to read %d bytes from %s at %d", len(buf), h.path, offset)
	}
	return n, nil
}

// Sync 将数据刷入磁盘
func (h *FileHandle) Sync() error {
	if err := fdatasync(h.file); err != nil {
		return fail(err, "Sync", "unable to sync %s", h.path)
	}
	return nil
}

// fail 记录诊断信息并返回包装后的错误
func fail(err error, fn string, format string, args ...interface{}) error {
	file, line := "pal.go", 0
	if _, f, l, ok := runtime.Caller(1); ok {
		file, line = f, l
	}
	diag.Default.Push(file, line, fn, Errno(err))
	diag.Default.Append(fmt.Sprintf(format, args...))
	return errors.Wrapf(err, format, args...)
}

// Errno 从错误链中提取系统错误码，无法提取时返回 EIO
func Errno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
