package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

func TestFileHeader(t *testing.T) {
	page := make([]byte, common.PAGE_SIZE)
	require.True(t, IsBlank(page))

	h := NewFileHeader(640)
	h.LastVersion = 9
	h.WriteTo(page)
	require.False(t, IsBlank(page))

	t.Run("读回", func(t *testing.T) {
		got, err := ReadFileHeader(page)
		require.NoError(t, err)
		assert.Equal(t, h.DatabaseID, got.DatabaseID)
		assert.Equal(t, uint64(640), got.NumberOfPages)
		assert.Equal(t, uint64(9), got.LastVersion)
		assert.Equal(t, uint64(5), got.Sections)
	})

	t.Run("第一份损坏时使用第二份", func(t *testing.T) {
		broken := append([]byte(nil), page...)
		broken[20] ^= 0xFF
		got, err := ReadFileHeader(broken)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), got.LastVersion)
	})

	t.Run("两份都损坏", func(t *testing.T) {
		broken := append([]byte(nil), page...)
		broken[20] ^= 0xFF
		broken[FILE_HEADER_COPY_OFF+40] ^= 0xFF
		_, err := ReadFileHeader(broken)
		assert.True(t, basic.IsCorruption(err))
	})

	t.Run("取较新的副本", func(t *testing.T) {
		mixed := append([]byte(nil), page...)
		newer := h
		newer.LastVersion = 10
		tmp := make([]byte, common.PAGE_SIZE)
		newer.WriteTo(tmp)
		copy(mixed[FILE_HEADER_COPY_OFF:], tmp[FILE_HEADER_COPY_OFF:FILE_HEADER_COPY_OFF+FILE_HEADER_SIZE])
		got, err := ReadFileHeader(mixed)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), got.LastVersion)
	})
}
