package manager

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

type shippedRecord struct {
	version uint64
	record  []byte
}

func TestLogShipping(t *testing.T) {
	var shipped []shippedRecord
	opts := testOptions(2 * 1024 * 1024)
	opts.WalWriteCallback = func(version uint64, record []byte) {
		shipped = append(shipped, shippedRecord{version: version, record: record})
	}
	source := openTestDB(t, testPath(t), opts)

	var pagesUsed []uint64
	for i := 0; i < 5; i++ {
		require.NoError(t, source.Update(func(tx *Transaction) error {
			p, err := tx.Allocate(uint64(i+1)*common.PAGE_SIZE, uint64(i*60))
			if err != nil {
				return err
			}
			pagesUsed = append(pagesUsed, p.Number)
			copy(p.Data, randomPage(int64(i))[:1000])
			return nil
		}))
	}
	require.NoError(t, source.Update(func(tx *Transaction) error {
		if err := tx.Grow(4 * 1024 * 1024); err != nil {
			return err
		}
		p, err := tx.Allocate(common.PAGE_SIZE, 400)
		if err != nil {
			return err
		}
		copy(p.Data, "after growth")
		return tx.Free(basic.Page{Number: pagesUsed[0], Count: 1})
	}))
	require.Len(t, shipped, 6)

	t.Run("回放全部记录得到相同的页", func(t *testing.T) {
		replica := openTestDB(t, testPath(t), testOptions(2*1024*1024))
		for _, s := range shipped {
			require.NoError(t, replica.ApplyWalRecord(s.version, s.record))
		}
		assert.Equal(t, source.Stats().Version, replica.Stats().Version)
		assert.Equal(t, uint64(512), replica.Stats().NumberOfPages)

		require.NoError(t, source.View(func(src *Transaction) error {
			return replica.View(func(dst *Transaction) error {
				for n := uint64(1); n < src.NumberOfPages(); n++ {
					a, err := src.Get(n, 1)
					require.NoError(t, err)
					b, err := dst.Get(n, 1)
					require.NoError(t, err)
					if !bytes.Equal(a.Data, b.Data) {
						t.Fatalf("page %d differs", n)
					}
				}
				return nil
			})
		}))
	})

	t.Run("版本必须连续", func(t *testing.T) {
		replica := openTestDB(t, testPath(t), testOptions(2*1024*1024))
		err := replica.ApplyWalRecord(shipped[1].version, shipped[1].record)
		assert.True(t, basic.IsInvalidArgument(err))

		err = replica.ApplyWalRecord(2, shipped[0].record)
		assert.True(t, basic.IsInvalidArgument(err))
		assert.Equal(t, uint64(0), replica.Stats().Version)
	})

	t.Run("损坏的记录", func(t *testing.T) {
		replica := openTestDB(t, testPath(t), testOptions(2*1024*1024))
		broken := append([]byte(nil), shipped[0].record...)
		broken[len(broken)-1] ^= 0xFF
		err := replica.ApplyWalRecord(1, broken)
		assert.True(t, basic.IsCorruption(err))

		err = replica.ApplyWalRecord(1, make([]byte, 4096))
		assert.True(t, basic.IsCorruption(err))
	})

	t.Run("写事务打开时不能回放", func(t *testing.T) {
		replica := openTestDB(t, testPath(t), testOptions(2*1024*1024))
		w, err := replica.Begin(basic.TxWrite)
		require.NoError(t, err)
		defer w.Close()
		err = replica.ApplyWalRecord(1, shipped[0].record)
		assert.True(t, basic.IsWriteConflict(err))
	})
}
