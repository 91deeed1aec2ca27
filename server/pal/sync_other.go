//go:build unix && !linux

package pal

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
