package manager

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/logs"
)

// ApplyWalRecord 把另一个数据库通过 WalWriteCallback 发出的记录作为下一个版本提交。
// 文件头页保留本库的内容，由提交重新生成。
func (db *Database) ApplyWalRecord(version uint64, record []byte) error {
	rec, err := logs.Decode(record)
	if err != nil {
		if err == logs.ErrEndOfLog {
			return basic.NewError(basic.ErrCorruption, "empty wal record")
		}
		return errors.Annotatef(err, "decode shipped version %d", version)
	}
	if rec.Version != version {
		return basic.NewError(basic.ErrInvalidArgument, "record carries version %d, expected %d", rec.Version, version)
	}

	tx, err := db.Begin(basic.TxWrite)
	if err != nil {
		return err
	}
	defer tx.Close()
	if next := tx.Version() + 1; version != next {
		return basic.NewError(basic.ErrInvalidArgument, "cannot apply version %d, next version is %d", version, next)
	}
	if max := db.opts.MaximumPages(); max > 0 && rec.TotalPages > max {
		return basic.NewError(basic.ErrOutOfSpace, "record needs %d pages, maximum is %d", rec.TotalPages, max)
	}
	if rec.TotalPages > tx.numberOfPages {
		tx.numberOfPages = rec.TotalPages
	}
	for i := range rec.Pages {
		p := &rec.Pages[i]
		if p.PageNum == common.HEADER_PAGE {
			continue
		}
		if err := p.Apply(tx.modifyPages(p.PageNum, 1)); err != nil {
			return errors.Annotatef(err, "apply page %d of version %d", p.PageNum, version)
		}
	}
	if err := tx.commit(true); err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("applied shipped version %d to %s: %d pages", version, db.path, len(rec.Pages))
	return nil
}
