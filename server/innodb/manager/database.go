package manager

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/conf"
	"github.com/zhukovaskychina/xpagestore/server/diag"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xpagestore/server/innodb/latch"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/mvcc"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xpagestore/server/pal"
)

// Database 单文件页存储。同一时刻最多一个写事务，读事务数量不限。
type Database struct {
	path  string
	opts  conf.Options
	codec logs.Codec

	file *pal.FileHandle

	// 映射代际，由 mapLatch 保护
	mapLatch *latch.Latch
	current  *mapping
	retired  []*mapping
	nextGen  uint64

	writer   latch.WriterSlot
	nextTxID atomic.Uint64
	closed   atomic.Bool

	// commitMu 覆盖一次提交的 WAL 写入与发布，ckptMu 串行化写回。
	// 加锁顺序: commitMu, ckptMu, mu, mapLatch
	commitMu sync.Mutex
	ckptMu   sync.Mutex
	// walDeferred 由 ckptMu 保护，WAL 回收因提交进行中被推迟
	walDeferred bool

	// 以下字段由 mu 保护，持有时间只限于读写这些字段
	mu            sync.Mutex
	version       uint64
	numberOfPages uint64
	header        pages.FileHeader
	pins          *mvcc.PinRegistry
	pool          *buffer_pool.VersionPool
	wal           *RedoLogManager
	checkpoint    *CheckpointManager
	recovery      RecoveryResult
}

// Stats 数据库运行状态
type Stats struct {
	Version       uint64
	Watermark     uint64
	NumberOfPages uint64
	PhysicalPages uint64
	Readers       int
	Writers       int
	PinnedMin     uint64
	PendingWrites int
	ArenaVersions int
	ArenaPages    int
	WalIndex      int
	WalPositions  [2]uint64
	WalSizes      [2]uint64
	Recovered     int
	Pool          buffer_pool.VersionPoolStats
}

// OpenDatabase 打开或创建数据库，已有数据库先按 WAL 恢复
func OpenDatabase(path string, opts conf.Options) (*Database, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	codec, err := logs.CodecByName(opts.Compression)
	if err != nil {
		return nil, err
	}
	diag.Default.Clear()

	file, err := pal.CreateFile(path)
	if err != nil {
		return nil, basic.FromDiag(diag.Default, err)
	}
	db := &Database{
		path:     file.Filename(),
		opts:     opts,
		codec:    codec,
		file:     file,
		mapLatch: latch.NewLatch(),
	}
	if err := db.open(); err != nil {
		if db.wal != nil {
			db.wal.Close()
		}
		db.unmapAll()
		file.Close()
		diag.Default.Clear()
		return nil, errors.Annotatef(err, "open database %s", path)
	}
	return db, nil
}

func (db *Database) open() error {
	wal, err := NewRedoLogManager(db.path, db.opts.WalSize)
	if err != nil {
		return err
	}
	db.wal = wal

	minPages := common.FilePagesFor(db.opts.MinimumSize)
	page := make([]byte, common.PAGE_SIZE)
	if _, err := db.file.ReadAt(0, page); err != nil {
		return basic.FromDiag(diag.Default, err)
	}

	var header pages.FileHeader
	if pages.IsBlank(page) {
		header, err = db.create(minPages)
	} else {
		header, err = db.recover(page)
	}
	if err != nil {
		return err
	}

	size, err := db.file.Size()
	if err != nil {
		return basic.FromDiag(diag.Default, err)
	}
	physical := size / common.PAGE_SIZE
	if physical < minPages {
		if err := db.file.SetMinSize(minPages * common.PAGE_SIZE); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
		physical = minPages
	}
	if err := db.remap(physical); err != nil {
		return basic.FromDiag(diag.Default, err)
	}

	db.header = header
	db.version = header.LastVersion
	db.numberOfPages = max(header.NumberOfPages, minPages)
	db.pins = mvcc.NewPinRegistry()
	db.pool = buffer_pool.NewVersionPool(db.version)
	db.checkpoint = NewCheckpointManager(db.version)

	logger.WithFields(logrus.Fields{
		"database": header.DatabaseID.String(),
		"version":  db.version,
		"pages":    db.numberOfPages,
		"replayed": db.recovery.Replayed,
	}).Infof("opened %s", db.path)
	return nil
}

// create 初始化新数据库：扩展文件并写入文件头
func (db *Database) create(minPages uint64) (pages.FileHeader, error) {
	header := pages.NewFileHeader(minPages)
	if err := db.file.SetMinSize(minPages * common.PAGE_SIZE); err != nil {
		return header, basic.FromDiag(diag.Default, err)
	}
	page := make([]byte, common.PAGE_SIZE)
	header.WriteTo(page)
	if err := db.file.WriteAt(0, page); err != nil {
		return header, basic.FromDiag(diag.Default, err)
	}
	if err := db.file.Sync(); err != nil {
		return header, basic.FromDiag(diag.Default, err)
	}
	if err := db.wal.ResetAll(); err != nil {
		return header, err
	}
	logger.Infof("created %s with %d pages, database id %s", db.path, minPages, header.DatabaseID)
	return header, nil
}

// recover 回放 WAL 中已提交但未写回的版本，然后同步数据文件并重置 WAL
func (db *Database) recover(page []byte) (pages.FileHeader, error) {
	header, err := pages.ReadFileHeader(page)
	if err != nil {
		return header, err
	}
	res, err := db.wal.Recover(header.LastVersion, db.replay)
	if err != nil {
		return header, err
	}
	db.recovery = res
	if res.Replayed > 0 {
		if err := db.file.Sync(); err != nil {
			return header, basic.FromDiag(diag.Default, err)
		}
		if _, err := db.file.ReadAt(0, page); err != nil {
			return header, basic.FromDiag(diag.Default, err)
		}
		if header, err = pages.ReadFileHeader(page); err != nil {
			return header, err
		}
		if res.LastVersion > header.LastVersion {
			header.LastVersion = res.LastVersion
		}
		logger.Infof("recovered %s: replayed %d records, versions %d to %d",
			db.path, res.Replayed, res.FirstVersion, res.LastVersion)
	}
	if err := db.wal.ResetAll(); err != nil {
		return header, err
	}
	return header, nil
}

// replay 把一条记录直接写入数据文件
func (db *Database) replay(rec *logs.Record) error {
	if err := db.file.SetMinSize(rec.TotalPages * common.PAGE_SIZE); err != nil {
		return basic.FromDiag(diag.Default, err)
	}
	buf := make([]byte, common.PAGE_SIZE)
	for i := range rec.Pages {
		p := &rec.Pages[i]
		clear(buf)
		offset := p.PageNum * common.PAGE_SIZE
		if _, err := db.file.ReadAt(offset, buf); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
		if err := p.Apply(buf); err != nil {
			return err
		}
		if err := db.file.WriteAt(offset, buf); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
	}
	return nil
}

func (db *Database) isClosed() bool {
	return db.closed.Load()
}

func (db *Database) committedPages() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.numberOfPages
}

// Header 最近一次提交的文件头
func (db *Database) Header() pages.FileHeader {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.header
}

// Recovery 打开时的恢复结果
func (db *Database) Recovery() RecoveryResult {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.recovery
}

// Path 数据文件绝对路径
func (db *Database) Path() string {
	return db.path
}

// Begin 开始事务。已有写事务时再开始写事务返回 ErrWriteConflict。
func (db *Database) Begin(flags basic.TxFlags) (*Transaction, error) {
	if flags&(basic.TxRead|basic.TxWrite) == 0 {
		return nil, basic.NewError(basic.ErrInvalidArgument, "unknown transaction flags %d", flags)
	}
	id := db.nextTxID.Add(1)

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed.Load() {
		return nil, basic.NewError(basic.ErrInvalidState, "database %s is closed", db.path)
	}
	if flags&basic.TxWrite != 0 {
		flags = basic.TxWrite
		if !db.writer.TryAcquire(id) {
			return nil, basic.NewError(basic.ErrWriteConflict, "transaction %d is writing", db.writer.Owner())
		}
	}
	tx := newTransaction(db, id, flags, db.version, db.numberOfPages, db.acquireMapping())
	if tx.IsReadOnly() {
		db.pins.Pin(tx.view)
		tx.pinned = true
	}
	return tx, nil
}

// View 在读事务中执行 fn
func (db *Database) View(fn func(tx *Transaction) error) error {
	tx, err := db.Begin(basic.TxRead)
	if err != nil {
		return err
	}
	defer tx.Close()
	return fn(tx)
}

// Update 在写事务中执行 fn，fn 成功时提交
func (db *Database) Update(fn func(tx *Transaction) error) error {
	tx, err := db.Begin(basic.TxWrite)
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats 当前状态。WAL 部分在 db.mu 之外读取，提交写入期间会等待。
func (db *Database) Stats() Stats {
	db.mu.Lock()
	st := Stats{
		Version:       db.version,
		NumberOfPages: db.numberOfPages,
		Recovered:     db.recovery.Replayed,
	}
	if db.closed.Load() {
		db.mu.Unlock()
		return st
	}
	st.Watermark = db.checkpoint.Watermark()
	st.PendingWrites = db.checkpoint.Pending()
	st.Readers = db.pins.Readers()
	st.Writers = db.pins.Writers()
	st.PinnedMin, _ = db.pins.MinPinned()
	st.ArenaVersions = db.pool.Len()
	st.ArenaPages = db.pool.PageCount()
	st.Pool = db.pool.Stats()
	db.mu.Unlock()

	st.WalIndex, _ = db.wal.Position()
	st.WalPositions = db.wal.Positions()
	st.WalSizes = db.wal.Sizes()
	if m := db.currentMapping(); m != nil {
		st.PhysicalPages = m.pages
	}
	return st
}

// WALWritePosition 当前 WAL 文件编号与写入位置
func (db *Database) WALWritePosition() (int, uint64) {
	if db.closed.Load() {
		return 0, 0
	}
	return db.wal.Position()
}

// MappedPage 数据文件中该页当前的内容，即已写回的状态
func (db *Database) MappedPage(num uint64) []byte {
	db.mapLatch.RLock()
	defer db.mapLatch.RUnlock()
	data := db.current.page(num, 1)
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Close 关闭数据库。所有版本都已写回且没有读者时同步数据文件并清空 WAL。
// 未关闭的事务之后的操作返回 ErrInvalidState。
func (db *Database) Close() error {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()
	db.ckptMu.Lock()
	defer db.ckptMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	diag.Default.Clear()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if owner := db.writer.Owner(); owner != 0 {
		logger.Warnf("closing %s with write transaction %d open", db.path, owner)
		db.writer.Release(owner)
	}
	if readers := db.pins.Readers(); readers > 0 {
		logger.Warnf("closing %s with %d read transactions open", db.path, readers)
	}
	if writers := db.pins.Writers(); writers > 0 {
		logger.Warnf("closing %s with %d committed write transactions not closed", db.path, writers)
	}
	if db.checkpoint.Watermark() == db.version && db.pins.Total() == 0 {
		if err := db.file.Sync(); err != nil {
			keep(basic.FromDiag(diag.Default, err))
		} else {
			keep(db.wal.ResetAll())
		}
	}
	keep(db.wal.Close())
	db.unmapAll()
	if err := db.file.Close(); err != nil {
		keep(basic.FromDiag(diag.Default, err))
	}
	logger.Debugf("closed %s at version %d", db.path, db.version)
	return errors.Trace(first)
}
