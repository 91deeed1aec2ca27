package manager

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/diag"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
)

// CheckpointManager 记录已写回数据文件的版本水位，以及每个待写回版本提交时的数据库页数。
// 字段由 db.mu 保护，写回过程由 db.ckptMu 串行化。
type CheckpointManager struct {
	watermark uint64
	extents   map[uint64]uint64
}

// NewCheckpointManager 以已写回的版本创建
func NewCheckpointManager(watermark uint64) *CheckpointManager {
	return &CheckpointManager{
		watermark: watermark,
		extents:   make(map[uint64]uint64),
	}
}

// Watermark 已写回数据文件的最高版本
func (c *CheckpointManager) Watermark() uint64 {
	return c.watermark
}

// Watermark 已写回数据文件的最高版本
func (db *Database) Watermark() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.checkpoint.watermark
}

// Track 记录新提交的版本
func (c *CheckpointManager) Track(version, totalPages uint64) {
	c.extents[version] = totalPages
}

// Pending 尚未写回的版本数
func (c *CheckpointManager) Pending() int {
	return len(c.extents)
}

// nextCheckpoint 下一个可以写回的版本及其提交时的页数
func (db *Database) nextCheckpoint() (uint64, uint64, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := db.checkpoint
	next := cp.watermark + 1
	if cp.watermark >= db.version || !db.pins.CanApply(next) {
		return 0, 0, false
	}
	total, ok := cp.extents[next]
	return next, total, ok
}

// advanceCheckpoint 按顺序写回 W+1，直到遇到仍被固定的版本。
// 写回期间不持有 db.mu，读事务继续从版本池读取正在写回的页。
func (db *Database) advanceCheckpoint() error {
	db.ckptMu.Lock()
	defer db.ckptMu.Unlock()
	if db.closed.Load() {
		return nil
	}
	from := db.Watermark()
	to := from
	for {
		version, total, ok := db.nextCheckpoint()
		if !ok {
			break
		}
		if err := db.applyVersion(version, total); err != nil {
			return errors.Trace(err)
		}
		db.mu.Lock()
		db.pool.Release(version)
		delete(db.checkpoint.extents, version)
		db.checkpoint.watermark = version
		db.mu.Unlock()
		to = version
	}
	if to == from && !db.walDeferred {
		return nil
	}
	if to != from {
		logger.Debugf("checkpoint %s advanced from %d to %d", db.path, from, to)
	}
	return db.checkpointWAL(to)
}

// checkpointWAL 同步数据文件后回收已写回的 WAL 文件。调用者持有 ckptMu。
// 正在提交的写事务持有 commitMu 时直接返回，它在提交结束后会再次推进检查点。
func (db *Database) checkpointWAL(watermark uint64) error {
	if !db.commitMu.TryLock() {
		db.walDeferred = true
		return nil
	}
	defer db.commitMu.Unlock()
	db.walDeferred = false
	if !db.wal.WillCheckpoint(watermark) {
		return nil
	}
	diag.Default.Clear()
	if err := db.file.Sync(); err != nil {
		return basic.FromDiag(diag.Default, err)
	}
	return errors.Trace(db.wal.Checkpoint(watermark))
}

// applyVersion 把一个版本的页写入数据文件，必要时先扩展文件并重新映射。调用者持有 ckptMu。
func (db *Database) applyVersion(version, total uint64) error {
	diag.Default.Clear()
	if physical := db.currentMapping().pages; total > physical {
		if err := db.file.SetMinSize(total * common.PAGE_SIZE); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
		if err := db.remap(total); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
	}
	for _, pv := range db.pool.PagesOf(version) {
		if err := db.file.WriteAt(pv.PageNum*common.PAGE_SIZE, pv.Data); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
	}
	return nil
}
