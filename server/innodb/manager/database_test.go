package manager

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/conf"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

func testOptions(minimumSize uint64) conf.Options {
	opts := conf.DefaultOptions()
	opts.MinimumSize = minimumSize
	return opts
}

func testPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "db", "try")
}

func openTestDB(t *testing.T, path string, opts conf.Options) *Database {
	db, err := OpenDatabase(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// writeValue 在写事务中把 val 写入页首并提交
func writeValue(t *testing.T, db *Database, pageNum uint64, val uint32) {
	tx, err := db.Begin(basic.TxWrite)
	require.NoError(t, err)
	defer tx.Close()
	p, err := tx.Modify(pageNum, 1)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(p.Data, val)
	require.NoError(t, tx.Commit())
}

func readValue(t *testing.T, tx *Transaction, pageNum uint64) uint32 {
	p, err := tx.Get(pageNum, 1)
	require.NoError(t, err)
	return binary.LittleEndian.Uint32(p.Data)
}

func mappedValue(db *Database, pageNum uint64) uint32 {
	return binary.LittleEndian.Uint32(db.MappedPage(pageNum))
}

func randomPage(seed int64) []byte {
	buf := make([]byte, common.PAGE_SIZE)
	rand.New(rand.NewSource(seed)).Read(buf)
	return buf
}

func TestOpenDatabase(t *testing.T) {
	t.Run("创建新数据库", func(t *testing.T) {
		path := testPath(t)
		db := openTestDB(t, path, testOptions(128*1024))

		st := db.Stats()
		assert.Equal(t, uint64(0), st.Version)
		assert.Equal(t, uint64(16), st.NumberOfPages)
		assert.Equal(t, uint64(16), st.PhysicalPages)

		for _, name := range []string{path, path + common.WAL_SUFFIX_A, path + common.WAL_SUFFIX_B} {
			_, err := os.Stat(name)
			assert.NoError(t, err, name)
		}
	})

	t.Run("最小大小按分区取整", func(t *testing.T) {
		db := openTestDB(t, testPath(t), testOptions(4*1028*1024))
		assert.Equal(t, uint64(640), db.Stats().NumberOfPages)
	})

	t.Run("选项校验", func(t *testing.T) {
		_, err := OpenDatabase(testPath(t), testOptions(64*1024))
		assert.True(t, basic.IsInvalidArgument(err))

		opts := testOptions(128 * 1024)
		opts.Compression = "zstd"
		_, err = OpenDatabase(testPath(t), opts)
		assert.True(t, basic.IsInvalidArgument(err))
	})

	t.Run("父路径不是目录", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

		_, err := OpenDatabase(filepath.Join(file, "db"), testOptions(128*1024))
		require.Error(t, err)
		assert.True(t, basic.IsIOError(err))
	})

	t.Run("文件头损坏", func(t *testing.T) {
		path := testPath(t)
		db, err := OpenDatabase(path, testOptions(128*1024))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte("garbage!"), 0)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte("garbage!"), common.PAGE_SIZE/2)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = OpenDatabase(path, testOptions(128*1024))
		assert.True(t, basic.IsCorruption(err))
	})

	t.Run("文件头第一份损坏时使用第二份", func(t *testing.T) {
		path := testPath(t)
		db, err := OpenDatabase(path, testOptions(128*1024))
		require.NoError(t, err)
		writeValue(t, db, 2, 42)
		require.NoError(t, db.Close())

		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte("garbage!"), 0)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		db = openTestDB(t, path, testOptions(128*1024))
		assert.Equal(t, uint64(1), db.Stats().Version)
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(42), readValue(t, tx, 2))
			return nil
		}))
	})
}

func TestDurability(t *testing.T) {
	t.Run("关闭后重新打开数据仍在", func(t *testing.T) {
		path := testPath(t)
		db, err := OpenDatabase(path, testOptions(128*1024))
		require.NoError(t, err)
		require.NoError(t, db.Update(func(tx *Transaction) error {
			p, err := tx.Allocate(common.PAGE_SIZE, 0)
			if err != nil {
				return err
			}
			copy(p.Data, "Hello Gavran")
			return nil
		}))
		require.NoError(t, db.Close())

		db = openTestDB(t, path, testOptions(128*1024))
		assert.Equal(t, uint64(1), db.Stats().Version)
		require.NoError(t, db.View(func(tx *Transaction) error {
			p, err := tx.Get(2, 1)
			require.NoError(t, err)
			assert.Equal(t, "Hello Gavran", string(p.Data[:12]))
			busy, err := tx.IsPageBusy(2)
			require.NoError(t, err)
			assert.True(t, busy)
			return nil
		}))
	})

	t.Run("未提交的数据不会保留", func(t *testing.T) {
		path := testPath(t)
		db, err := OpenDatabase(path, testOptions(128*1024))
		require.NoError(t, err)
		writeValue(t, db, 3, 7)

		tx, err := db.Begin(basic.TxWrite)
		require.NoError(t, err)
		p, err := tx.Modify(3, 1)
		require.NoError(t, err)
		binary.LittleEndian.PutUint32(p.Data, 8)
		require.NoError(t, db.Close())
		assert.True(t, basic.IsInvalidState(tx.Commit()))
		require.NoError(t, tx.Close())

		db = openTestDB(t, path, testOptions(128*1024))
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(7), readValue(t, tx, 3))
			return nil
		}))
	})

	t.Run("正常关闭后WAL位置为零", func(t *testing.T) {
		path := testPath(t)
		db, err := OpenDatabase(path, testOptions(128*1024))
		require.NoError(t, err)
		writeValue(t, db, 2, 1)
		_, pos := db.WALWritePosition()
		assert.Greater(t, pos, uint64(0))
		require.NoError(t, db.Close())

		db = openTestDB(t, path, testOptions(128*1024))
		idx, pos := db.WALWritePosition()
		assert.Equal(t, 0, idx)
		assert.Equal(t, uint64(0), pos)
		assert.Equal(t, 0, db.Stats().Recovered)
	})

	t.Run("大于最小大小的数据库保持原大小", func(t *testing.T) {
		path := testPath(t)
		db, err := OpenDatabase(path, testOptions(4*1024*1024))
		require.NoError(t, err)
		writeValue(t, db, 300, 9)
		require.NoError(t, db.Close())

		db = openTestDB(t, path, testOptions(128*1024))
		assert.Equal(t, uint64(512), db.Stats().NumberOfPages)
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(9), readValue(t, tx, 300))
			return nil
		}))
	})
}

// crashWithLog 打开一个读事务阻止写回，提交 values 后关闭数据库，WAL 保留全部记录。
// 返回每次提交后当前 WAL 的写入位置。
func crashWithLog(t *testing.T, path string, values []uint32) []uint64 {
	db, err := OpenDatabase(path, testOptions(128*1024))
	require.NoError(t, err)
	reader, err := db.Begin(basic.TxRead)
	require.NoError(t, err)

	var positions []uint64
	for i, v := range values {
		writeValue(t, db, uint64(2+i), v)
		_, pos := db.WALWritePosition()
		positions = append(positions, pos)
	}
	assert.Equal(t, uint64(0), db.Stats().Watermark)
	require.NoError(t, db.Close())
	require.NoError(t, reader.Close())
	return positions
}

func TestRecovery(t *testing.T) {
	t.Run("重放WAL中的提交", func(t *testing.T) {
		path := testPath(t)
		crashWithLog(t, path, []uint32{11, 22, 33})

		db := openTestDB(t, path, testOptions(128*1024))
		st := db.Stats()
		assert.Equal(t, uint64(3), st.Version)
		assert.Equal(t, 3, st.Recovered)
		assert.Equal(t, uint32(33), mappedValue(db, 4))

		idx, pos := db.WALWritePosition()
		assert.Equal(t, 0, idx)
		assert.Equal(t, uint64(0), pos)
	})

	t.Run("最后一条记录损坏", func(t *testing.T) {
		path := testPath(t)
		positions := crashWithLog(t, path, []uint32{11, 22, 33})

		f, err := os.OpenFile(path+common.WAL_SUFFIX_A, os.O_RDWR, 0644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte{0xde, 0xad, 0xbe, 0xef}, int64(positions[1]+200))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		db := openTestDB(t, path, testOptions(128*1024))
		assert.Equal(t, uint64(2), db.Stats().Version)
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(11), readValue(t, tx, 2))
			assert.Equal(t, uint32(22), readValue(t, tx, 3))
			assert.Equal(t, uint32(0), readValue(t, tx, 4))
			return nil
		}))
	})

	t.Run("最后一条记录被截断", func(t *testing.T) {
		path := testPath(t)
		positions := crashWithLog(t, path, []uint32{11, 22, 33})

		require.NoError(t, os.Truncate(path+common.WAL_SUFFIX_A, int64(positions[1]+1024)))

		db := openTestDB(t, path, testOptions(128*1024))
		assert.Equal(t, uint64(2), db.Stats().Version)
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(22), readValue(t, tx, 3))
			assert.Equal(t, uint32(0), readValue(t, tx, 4))
			return nil
		}))

		// 恢复之后可以继续提交
		writeValue(t, db, 4, 44)
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(44), readValue(t, tx, 4))
			return nil
		}))
	})

	t.Run("中间记录损坏之后的记录全部丢弃", func(t *testing.T) {
		path := testPath(t)
		positions := crashWithLog(t, path, []uint32{11, 22, 33})

		f, err := os.OpenFile(path+common.WAL_SUFFIX_A, os.O_RDWR, 0644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte{0xff}, int64(positions[0]+100))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		db := openTestDB(t, path, testOptions(128*1024))
		assert.Equal(t, uint64(1), db.Stats().Version)
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(11), readValue(t, tx, 2))
			assert.Equal(t, uint32(0), readValue(t, tx, 3))
			assert.Equal(t, uint32(0), readValue(t, tx, 4))
			return nil
		}))
	})

	t.Run("已写回的记录残缺时不回放", func(t *testing.T) {
		path := testPath(t)
		db, err := OpenDatabase(path, testOptions(128*1024))
		require.NoError(t, err)
		var positions []uint64
		for i, v := range []uint32{11, 22, 33} {
			writeValue(t, db, uint64(2+i%2), v)
			_, pos := db.WALWritePosition()
			positions = append(positions, pos)
		}
		assert.Equal(t, uint64(3), db.Stats().Watermark)
		// 读事务未关闭，关闭数据库时保留 WAL
		reader, err := db.Begin(basic.TxRead)
		require.NoError(t, err)
		require.NoError(t, db.Close())
		require.NoError(t, reader.Close())

		f, err := os.OpenFile(path+common.WAL_SUFFIX_A, os.O_RDWR, 0644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte{0xff}, int64(positions[0]+100))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		db = openTestDB(t, path, testOptions(128*1024))
		st := db.Stats()
		assert.Equal(t, uint64(3), st.Version)
		assert.Equal(t, 0, st.Recovered)
		assert.Equal(t, 1, db.Recovery().Skipped)
		require.NoError(t, db.View(func(tx *Transaction) error {
			assert.Equal(t, uint32(33), readValue(t, tx, 2))
			assert.Equal(t, uint32(22), readValue(t, tx, 3))
			return nil
		}))
	})
}

func TestClose(t *testing.T) {
	t.Run("关闭后的操作", func(t *testing.T) {
		db, err := OpenDatabase(testPath(t), testOptions(128*1024))
		require.NoError(t, err)
		reader, err := db.Begin(basic.TxRead)
		require.NoError(t, err)
		require.NoError(t, db.Close())
		require.NoError(t, db.Close())

		_, err = db.Begin(basic.TxRead)
		assert.True(t, basic.IsInvalidState(err))
		_, err = reader.Get(2, 1)
		assert.True(t, basic.IsInvalidState(err))
		require.NoError(t, reader.Close())
	})
}
