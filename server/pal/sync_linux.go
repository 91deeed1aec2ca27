package pal

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync 只刷新数据和必要的元数据
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
