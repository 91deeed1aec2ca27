package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

func TestSpaceManager(t *testing.T) {
	t.Run("顺序分配直到空间耗尽", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(128*1024))
		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		defer tx.Close()

		for i := uint64(0); i < 14; i++ {
			p, err := tx.Allocate(common.PAGE_SIZE, 0)
			require.NoError(t, err)
			assert.Equal(t, 2+i, p.Number)
		}
		_, err = tx.Allocate(common.PAGE_SIZE, 0)
		assert.True(t, basic.IsOutOfSpace(err))
		assert.Equal(t, uint64(16), tx.NumberOfPages())
	})

	t.Run("分配不跨越分区", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(4*1028*1024))
		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		defer tx.Close()

		big, err := tx.Allocate(96*common.PAGE_SIZE, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), big.Number)
		assert.Equal(t, uint64(96), big.Pages())

		p, err := tx.Allocate(32*common.PAGE_SIZE, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(128), p.Number)

		p, err = tx.Allocate(16*common.PAGE_SIZE, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(98), p.Number)

		require.NoError(t, tx.Free(big))
		p, err = tx.Allocate(common.PAGE_SIZE, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), p.Number)
	})

	t.Run("保留页不会被分配", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(2*1024*1024))
		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		defer tx.Close()

		for {
			p, err := tx.Allocate(3*common.PAGE_SIZE, 0)
			if err != nil {
				assert.True(t, basic.IsOutOfSpace(err))
				break
			}
			for n := p.Number; n <= p.Last(); n++ {
				assert.False(t, common.IsReservedPage(n), "page %d", n)
			}
			assert.Equal(t, common.SectionOf(p.Number), common.SectionOf(p.Last()))
		}
		for _, n := range []uint64{0, 1, 127, 255} {
			busy, err := tx.IsPageBusy(n)
			require.NoError(t, err)
			assert.True(t, busy, "page %d", n)
		}
	})

	t.Run("超过分区容量的请求", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(4*1024*1024))
		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		defer tx.Close()

		_, err = tx.Allocate(128*common.PAGE_SIZE, 0)
		assert.True(t, basic.IsOutOfSpace(err))

		p, err := tx.Allocate(127*common.PAGE_SIZE, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(128), p.Number)
	})

	t.Run("从提示页所在分区开始", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(4*1024*1024))
		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		defer tx.Close()

		p, err := tx.Allocate(common.PAGE_SIZE, 300)
		require.NoError(t, err)
		assert.Equal(t, uint64(256), p.Number)

		// 最后一个分区放不下时回到前面的分区
		p, err = tx.Allocate(127*common.PAGE_SIZE, 400)
		require.NoError(t, err)
		assert.Equal(t, uint64(384), p.Number)
		p, err = tx.Allocate(127*common.PAGE_SIZE, 400)
		require.NoError(t, err)
		assert.Equal(t, uint64(128), p.Number)
	})

	t.Run("释放", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(128*1024))
		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		defer tx.Close()

		p, err := tx.Allocate(2*common.PAGE_SIZE, 0)
		require.NoError(t, err)
		copy(p.Data, "payload")
		require.NoError(t, tx.Free(p))

		busy, err := tx.IsPageBusy(p.Number)
		require.NoError(t, err)
		assert.False(t, busy)
		got, err := tx.Get(p.Number, 1)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, common.PAGE_SIZE), got.Data)

		err = tx.Free(p)
		assert.True(t, basic.IsInvalidArgument(err))
		err = tx.Free(basic.Page{Number: 1})
		assert.True(t, basic.IsInvalidArgument(err))
		err = tx.Free(basic.Page{Number: 15, Count: 4})
		assert.True(t, basic.IsInvalidArgument(err))
	})

	t.Run("分配对其他事务不可见", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(128*1024))
		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		p, err := tx.Allocate(common.PAGE_SIZE, 0)
		require.NoError(t, err)

		require.NoError(t, db.View(func(r *Transaction) error {
			busy, err := r.IsPageBusy(p.Number)
			require.NoError(t, err)
			assert.False(t, busy)
			return nil
		}))

		// 放弃后分配也被丢弃
		require.NoError(t, tx.Rollback())
		require.NoError(t, db.Update(func(w *Transaction) error {
			again, err := w.Allocate(common.PAGE_SIZE, 0)
			require.NoError(t, err)
			assert.Equal(t, p.Number, again.Number)
			return nil
		}))
	})

	t.Run("同一事务中分配并释放仍然提交", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(128*1024))
		require.NoError(t, db.Update(func(tx *Transaction) error {
			p, err := tx.Allocate(common.PAGE_SIZE, 0)
			require.NoError(t, err)
			return tx.Free(p)
		}))
		assert.Equal(t, uint64(1), db.Stats().Version)
	})

	t.Run("扩展数据库", func(t *testing.T) {
		path := testPath(t)
		opts := testOptions(128 * 1024)
		opts.MaximumSize = 2 * 1024 * 1024
		db, err := OpenDatabase(path, opts)
		require.NoError(t, err)

		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		for i := 0; i < 14; i++ {
			_, err := tx.Allocate(common.PAGE_SIZE, 0)
			require.NoError(t, err)
		}
		_, err = tx.Allocate(common.PAGE_SIZE, 0)
		require.True(t, basic.IsOutOfSpace(err))

		assert.True(t, basic.IsOutOfSpace(tx.Grow(4*1024*1024)))
		require.NoError(t, tx.Grow(1024*1024))
		assert.Equal(t, uint64(128), tx.NumberOfPages())
		p, err := tx.Allocate(common.PAGE_SIZE, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(16), p.Number)
		copy(p.Data, "grown")
		require.NoError(t, tx.Commit())
		require.NoError(t, tx.Close())

		st := db.Stats()
		assert.Equal(t, uint64(128), st.NumberOfPages)
		assert.Equal(t, uint64(128), st.PhysicalPages)
		assert.Equal(t, "grown", string(db.MappedPage(16)[:5]))
		require.NoError(t, db.Close())

		db = openTestDB(t, path, opts)
		assert.Equal(t, uint64(128), db.Stats().NumberOfPages)
		require.NoError(t, db.View(func(tx *Transaction) error {
			busy, err := tx.IsPageBusy(15)
			require.NoError(t, err)
			assert.True(t, busy)
			busy, err = tx.IsPageBusy(17)
			require.NoError(t, err)
			assert.False(t, busy)
			return nil
		}))
	})

	t.Run("分区使用情况", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(2*1024*1024))
		require.NoError(t, db.Update(func(tx *Transaction) error {
			_, err := tx.Allocate(10*common.PAGE_SIZE, 0)
			require.NoError(t, err)
			_, err = tx.Allocate(5*common.PAGE_SIZE, 130)
			return err
		}))
		require.NoError(t, db.View(func(tx *Transaction) error {
			usage, err := tx.Usage()
			require.NoError(t, err)
			require.Len(t, usage, 2)
			assert.Equal(t, uint64(125), usage[0].Capacity)
			assert.Equal(t, uint64(10), usage[0].Busy)
			assert.Equal(t, uint64(127), usage[1].Capacity)
			assert.Equal(t, uint64(5), usage[1].Busy)
			assert.Equal(t, uint64(122), usage[1].Free())
			return nil
		}))
	})
}
