package util

import (
	"os"
	"path/filepath"
)

// PathExists 判断路径是否存在
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// EnsureDir 确保文件所在目录存在
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// AlignUp 将 n 向上对齐到 align 的整数倍，align 必须大于 0
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}

// NextPowerOfTwo 返回不小于 n 的最小 2 的幂
func NextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
