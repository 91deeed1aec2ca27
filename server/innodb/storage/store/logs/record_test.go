package logs

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

func newPage(fill byte) []byte {
	p := make([]byte, common.PAGE_SIZE)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestDiffPage(t *testing.T) {
	out := make([]byte, common.PAGE_SIZE)

	t.Run("少量修改远小于整页", func(t *testing.T) {
		origin := newPage(0)
		modified := append([]byte(nil), origin...)
		copy(modified[100:], "hello world")
		copy(modified[5000:], "again")
		n, isDiff := DiffPage(origin, modified, out)
		require.True(t, isDiff)
		assert.Less(t, n, 64)

		page := append([]byte(nil), origin...)
		require.NoError(t, ApplyDiff(out[:n], page))
		assert.Equal(t, modified, page)
	})

	t.Run("清零使用负长度", func(t *testing.T) {
		origin := newPage(7)
		modified := append([]byte(nil), origin...)
		for i := 1024; i < 4096; i++ {
			modified[i] = 0
		}
		n, isDiff := DiffPage(origin, modified, out)
		require.True(t, isDiff)
		assert.Equal(t, diffEntrySize, n)

		page := append([]byte(nil), origin...)
		require.NoError(t, ApplyDiff(out[:n], page))
		assert.Equal(t, modified, page)
	})

	t.Run("随机内容退化为原始页", func(t *testing.T) {
		origin := newPage(0)
		modified := make([]byte, common.PAGE_SIZE)
		rand.New(rand.NewSource(1)).Read(modified)
		n, isDiff := DiffPage(origin, modified, out)
		assert.False(t, isDiff)
		assert.Equal(t, common.PAGE_SIZE, n)
		assert.Equal(t, modified, out[:n])
	})

	t.Run("没有前像", func(t *testing.T) {
		modified := newPage(3)
		n, isDiff := DiffPage(nil, modified, out)
		assert.False(t, isDiff)
		assert.Equal(t, common.PAGE_SIZE, n)
	})

	t.Run("末尾的修改", func(t *testing.T) {
		origin := newPage(1)
		modified := append([]byte(nil), origin...)
		modified[common.PAGE_SIZE-1] = 9
		n, isDiff := DiffPage(origin, modified, out)
		require.True(t, isDiff)
		page := append([]byte(nil), origin...)
		require.NoError(t, ApplyDiff(out[:n], page))
		assert.Equal(t, modified, page)
	})

	t.Run("越界的差异", func(t *testing.T) {
		bad := make([]byte, 8)
		bad[0] = 0xFF
		bad[1] = 0x1F
		bad[4] = 16
		assert.True(t, basic.IsCorruption(ApplyDiff(bad, newPage(0))))
	})
}

func TestRecordRoundTrip(t *testing.T) {
	for _, name := range []string{"lz4", "snappy", "none"} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)

			prev := newPage(0)
			changed := append([]byte(nil), prev...)
			copy(changed[10:], "abc")
			random := make([]byte, common.PAGE_SIZE)
			rand.New(rand.NewSource(2)).Read(random)

			images := []PageImage{
				{PageNum: 9, Previous: prev, Data: random},
				{PageNum: 3, Previous: prev, Data: changed},
				{PageNum: 0, Data: newPage(0x11)},
			}
			rec := Encode(4, 16, images, codec)
			assert.Zero(t, len(rec)%common.WRITE_ALIGNMENT)

			got, err := Decode(rec)
			require.NoError(t, err)
			assert.Equal(t, uint64(4), got.Version)
			assert.Equal(t, uint64(16), got.TotalPages)
			require.Len(t, got.Pages, 3)
			assert.Equal(t, []uint64{0, 3, 9}, []uint64{got.Pages[0].PageNum, got.Pages[1].PageNum, got.Pages[2].PageNum})

			for i, want := range [][]byte{newPage(0x11), changed, random} {
				page := newPage(0)
				require.NoError(t, got.Pages[i].Apply(page))
				assert.True(t, bytes.Equal(want, page), "page %d", got.Pages[i].PageNum)
			}
		})
	}
}

func TestCompressibleCommitIsSmall(t *testing.T) {
	codec, _ := CodecByName("lz4")
	images := make([]PageImage, 0, 32)
	for i := 0; i < 32; i++ {
		prev := newPage(0)
		data := append([]byte(nil), prev...)
		copy(data[64:], "small change")
		images = append(images, PageImage{PageNum: uint64(i + 2), Previous: prev, Data: data})
	}
	rec := Encode(1, 128, images, codec)
	assert.Equal(t, common.WRITE_ALIGNMENT, len(rec))
}

func TestDecodeRejectsCorruption(t *testing.T) {
	codec, _ := CodecByName("lz4")
	rec := Encode(2, 16, []PageImage{{PageNum: 2, Previous: newPage(0), Data: newPage(5)}}, codec)

	t.Run("全零为日志结尾", func(t *testing.T) {
		_, err := Decode(make([]byte, common.WRITE_ALIGNMENT))
		assert.ErrorIs(t, err, ErrEndOfLog)
	})

	t.Run("末尾字节损坏", func(t *testing.T) {
		broken := append([]byte(nil), rec...)
		broken[len(broken)-1] ^= 0x01
		_, err := Decode(broken)
		assert.True(t, basic.IsCorruption(err))
	})

	t.Run("截断", func(t *testing.T) {
		_, err := Decode(rec[:len(rec)-10])
		assert.True(t, basic.IsCorruption(err))
	})

	t.Run("头部损坏", func(t *testing.T) {
		broken := append([]byte(nil), rec...)
		broken[40] = 0x13
		_, err := Decode(broken)
		assert.True(t, basic.IsCorruption(err))
	})
}
