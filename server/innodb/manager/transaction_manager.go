package manager

import (
	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/diag"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/mvcc"
)

// Transaction 读事务或写事务。同一个事务不能被多个 goroutine 并发使用。
//
// 读事务固定打开时最新的提交版本；写事务基于打开时的最新版本修改，提交时得到下一个版本。
// Get 返回的页内容只读，Modify 返回的缓冲区在下一次覆盖同一页的 Modify 之前有效。
type Transaction struct {
	db            *Database
	id            uint64
	flags         basic.TxFlags
	state         basic.TxState
	view          *mvcc.ReadView
	numberOfPages uint64
	mappings      []*mapping
	dirty         *dirtyPages
	space         *SpaceManager
	pinned        bool
}

func newTransaction(db *Database, id uint64, flags basic.TxFlags, version, numberOfPages uint64, m *mapping) *Transaction {
	tx := &Transaction{
		db:            db,
		id:            id,
		flags:         flags,
		state:         basic.TX_STATE_OPEN,
		view:          mvcc.NewReadView(id, version),
		numberOfPages: numberOfPages,
		mappings:      []*mapping{m},
	}
	if flags&basic.TxWrite != 0 {
		tx.dirty = newDirtyPages()
	}
	tx.space = &SpaceManager{tx: tx}
	return tx
}

// ID 事务编号
func (t *Transaction) ID() uint64 {
	return t.id
}

// IsReadOnly 是否为读事务
func (t *Transaction) IsReadOnly() bool {
	return t.flags&basic.TxWrite == 0
}

// Version 读事务为固定的版本；写事务提交前为基础版本，提交后为新版本
func (t *Transaction) Version() uint64 {
	return t.view.GetVersion()
}

// State 事务状态
func (t *Transaction) State() basic.TxState {
	return t.state
}

// NumberOfPages 事务可见的数据库页数
func (t *Transaction) NumberOfPages() uint64 {
	return t.numberOfPages
}

// Space 事务视图上的分配器
func (t *Transaction) Space() *SpaceManager {
	return t.space
}

func (t *Transaction) check(write bool) error {
	if t.db.isClosed() {
		return basic.NewError(basic.ErrInvalidState, "database %s is closed", t.db.path)
	}
	if t.state != basic.TX_STATE_OPEN {
		return basic.NewError(basic.ErrInvalidState, "transaction %d is %s", t.id, t.state)
	}
	if write && t.IsReadOnly() {
		return basic.NewError(basic.ErrInvalidState, "transaction %d is read only", t.id)
	}
	return nil
}

func (t *Transaction) checkRange(num, count uint64) error {
	if count == 0 || num+count < num || num+count > t.numberOfPages {
		return basic.NewError(basic.ErrInvalidArgument, "pages [%d, %d) beyond %d pages",
			num, num+count, t.numberOfPages)
	}
	return nil
}

// mappingFor 返回覆盖该页的映射。文件在事务打开后增长时引用新的映射。
func (t *Transaction) mappingFor(num uint64) *mapping {
	held := t.mappings[len(t.mappings)-1]
	if num < held.pages {
		return held
	}
	cur := t.db.currentMapping()
	if cur == nil || cur == held || num >= cur.pages {
		return nil
	}
	m := t.db.acquireMapping()
	t.mappings = append(t.mappings, m)
	if num < m.pages {
		return m
	}
	return nil
}

// committedPage 事务版本下已提交的页内容：版本池、数据文件映射，最后是零页
func (t *Transaction) committedPage(num uint64) []byte {
	if data, ok := t.db.pool.Lookup(num, t.view.GetVersion()); ok {
		return data
	}
	if m := t.mappingFor(num); m != nil {
		return m.page(num, 1)
	}
	return zeroPage
}

// readPage 写事务优先读取自己的脏页
func (t *Transaction) readPage(num uint64) []byte {
	if t.dirty != nil {
		if data, ok := t.dirty.get(num); ok {
			return data
		}
	}
	return t.committedPage(num)
}

func (t *Transaction) modifyPages(num, count uint64) []byte {
	return t.dirty.modify(num, count, t.committedPage)
}

// Get 读取从 num 开始的 count 页
func (t *Transaction) Get(num, count uint64) (basic.Page, error) {
	if count == 0 {
		count = 1
	}
	if err := t.check(false); err != nil {
		return basic.Page{}, err
	}
	if err := t.checkRange(num, count); err != nil {
		return basic.Page{}, err
	}
	page := basic.Page{Number: num, Count: uint32(count)}
	if count == 1 {
		page.Data = t.readPage(num)
		return page, nil
	}
	if t.dirty != nil {
		if buf, ok := t.dirty.span(num, count); ok {
			page.Data = buf
			return page, nil
		}
	}
	if data := t.mappedRun(num, count); data != nil {
		page.Data = data
		return page, nil
	}
	page.Data = make([]byte, count*common.PAGE_SIZE)
	for i := uint64(0); i < count; i++ {
		copy(page.Data[i*common.PAGE_SIZE:], t.readPage(num+i))
	}
	return page, nil
}

// mappedRun 整段页都只存在于数据文件中时直接返回映射
func (t *Transaction) mappedRun(num, count uint64) []byte {
	m := t.mappingFor(num + count - 1)
	if m == nil {
		return nil
	}
	for i := uint64(0); i < count; i++ {
		if t.dirty != nil {
			if _, ok := t.dirty.get(num + i); ok {
				return nil
			}
		}
		if t.db.pool.Has(num+i, t.view.GetVersion()) {
			return nil
		}
	}
	return m.page(num, count)
}

// Modify 返回从 num 开始的 count 页的可写缓冲区。文件头与位图页不能直接修改。
func (t *Transaction) Modify(num, count uint64) (basic.Page, error) {
	if count == 0 {
		count = 1
	}
	if err := t.check(true); err != nil {
		return basic.Page{}, err
	}
	if err := t.checkRange(num, count); err != nil {
		return basic.Page{}, err
	}
	for i := uint64(0); i < count; i++ {
		if common.IsReservedPage(num + i) {
			return basic.Page{}, basic.NewError(basic.ErrInvalidArgument, "page %d is reserved", num+i)
		}
	}
	return basic.Page{Number: num, Count: uint32(count), Data: t.modifyPages(num, count)}, nil
}

// Allocate 分配能容纳 size 字节的连续页，返回的页已清零并可写
func (t *Transaction) Allocate(size, hint uint64) (basic.Page, error) {
	if err := t.check(true); err != nil {
		return basic.Page{}, err
	}
	return t.space.Allocate(size, hint)
}

// Free 释放 Allocate 返回的页
func (t *Transaction) Free(page basic.Page) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.space.Free(page)
}

// IsPageBusy 页在事务视图中是否已分配
func (t *Transaction) IsPageBusy(num uint64) (bool, error) {
	if err := t.check(false); err != nil {
		return false, err
	}
	return t.space.IsPageBusy(num)
}

// Usage 事务视图中每个分区的占用情况
func (t *Transaction) Usage() ([]SectionUsage, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.space.Usage(), nil
}

// Grow 把数据库扩展到至少 minimumSize 字节。新页立即可以分配，数据文件在写回时扩展。
func (t *Transaction) Grow(minimumSize uint64) error {
	if err := t.check(true); err != nil {
		return err
	}
	pages := common.FilePagesFor(minimumSize)
	if pages <= t.numberOfPages {
		return nil
	}
	if max := t.db.opts.MaximumPages(); max > 0 && pages > max {
		return basic.NewError(basic.ErrOutOfSpace, "cannot grow to %d pages, maximum is %d", pages, max)
	}
	logger.Debugf("tx %d grows %s from %d to %d pages", t.id, t.db.path, t.numberOfPages, pages)
	t.numberOfPages = pages
	return nil
}

// Commit 写入 WAL 并发布新版本。没有修改时不产生新版本。
func (t *Transaction) Commit() error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.commit(false)
}

func (t *Transaction) commit(force bool) error {
	db := t.db
	base := t.view.GetVersion()
	if !force && t.dirty.Len() == 0 && t.numberOfPages == db.committedPages() {
		t.state = basic.TX_STATE_COMMITTED
		db.writer.Release(t.id)
		return nil
	}

	version := base + 1
	hdr := db.Header()
	hdr.NumberOfPages = t.numberOfPages
	hdr.LastVersion = version
	hdr.WriteTo(t.modifyPages(common.HEADER_PAGE, 1))

	record := logs.Encode(version, t.numberOfPages, t.dirty.images(), db.codec)

	// WAL 写入只持有 commitMu，读事务不会等待
	db.commitMu.Lock()
	if db.closed.Load() {
		db.commitMu.Unlock()
		return basic.NewError(basic.ErrInvalidState, "database %s is closed", db.path)
	}
	diag.Default.Clear()
	if err := db.wal.Append(version, record); err != nil {
		db.commitMu.Unlock()
		return err
	}

	db.mu.Lock()
	if err := db.pool.Register(version, t.dirty.dataMap()); err != nil {
		db.mu.Unlock()
		db.commitMu.Unlock()
		return err
	}
	db.checkpoint.Track(version, t.numberOfPages)
	db.version = version
	db.numberOfPages = t.numberOfPages
	db.header = hdr
	t.view = mvcc.NewReadView(t.id, version)
	t.state = basic.TX_STATE_COMMITTED
	db.pins.PinWriter(t.view)
	t.pinned = true
	db.writer.Release(t.id)
	callback := db.opts.WalWriteCallback
	db.mu.Unlock()
	db.commitMu.Unlock()

	if err := db.advanceCheckpoint(); err != nil {
		logger.Warnf("checkpoint of %s after commit %d: %v", db.path, version, err)
	}

	logger.Debugf("tx %d committed version %d: %d pages, %d wal bytes", t.id, version, t.dirty.Len(), len(record))
	if callback != nil {
		callback(version, record)
	}
	return nil
}

// Close 关闭事务。未提交的写事务丢弃全部修改；读事务与已提交的写事务释放固定的版本，
// 可能推进检查点。重复关闭无效果。
func (t *Transaction) Close() error {
	if t.state == basic.TX_STATE_CLOSED {
		return nil
	}
	db := t.db
	if t.pinned {
		db.mu.Lock()
		if t.IsReadOnly() {
			db.pins.Unpin(t.view)
		} else {
			db.pins.UnpinWriter(t.view)
		}
		db.mu.Unlock()
		t.pinned = false
		if err := db.advanceCheckpoint(); err != nil {
			logger.Warnf("checkpoint of %s after closing tx %d: %v", db.path, t.id, err)
		}
	}
	if !t.IsReadOnly() {
		if t.state == basic.TX_STATE_OPEN {
			db.writer.Release(t.id)
		}
		t.dirty.reset()
	}
	for _, m := range t.mappings {
		db.releaseMapping(m)
	}
	t.mappings = nil
	t.state = basic.TX_STATE_CLOSED
	return nil
}

// Rollback 放弃写事务
func (t *Transaction) Rollback() error {
	return t.Close()
}
