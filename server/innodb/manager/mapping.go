package manager

import (
	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/pal"
)

// mapping 数据文件的一代内存映射。文件增长后会创建新的一代，
// 旧的一代在最后一个持有它的事务关闭后解除映射。
type mapping struct {
	gen   uint64
	span  *pal.Mapping
	pages uint64
	refs  int
}

// page 返回映射中的页，超出映射范围时返回 nil
func (m *mapping) page(num, count uint64) []byte {
	if m == nil || num+count > m.pages {
		return nil
	}
	return m.span.Data[num*common.PAGE_SIZE : (num+count)*common.PAGE_SIZE]
}

// acquireMapping 增加当前映射的引用并返回
func (db *Database) acquireMapping() *mapping {
	db.mapLatch.Lock()
	defer db.mapLatch.Unlock()
	db.current.refs++
	return db.current
}

// currentMapping 读取当前映射，不增加引用
func (db *Database) currentMapping() *mapping {
	db.mapLatch.RLock()
	defer db.mapLatch.RUnlock()
	return db.current
}

// releaseMapping 释放引用，旧映射引用归零时解除映射
func (db *Database) releaseMapping(m *mapping) {
	db.mapLatch.Lock()
	defer db.mapLatch.Unlock()
	m.refs--
	if m != db.current && m.refs <= 0 {
		db.unmapLocked(m)
	}
}

func (db *Database) unmapLocked(m *mapping) {
	for i, r := range db.retired {
		if r == m {
			db.retired = append(db.retired[:i], db.retired[i+1:]...)
			break
		}
	}
	if err := pal.Unmap(m.span); err != nil {
		logger.Warnf("unmap generation %d of %s: %v", m.gen, db.path, err)
	}
}

// remap 文件大小变化后映射整个文件，替换当前映射
func (db *Database) remap(pages uint64) error {
	span, err := db.file.Map(0, pages*common.PAGE_SIZE)
	if err != nil {
		return err
	}
	db.mapLatch.Lock()
	defer db.mapLatch.Unlock()
	old := db.current
	db.nextGen++
	db.current = &mapping{gen: db.nextGen, span: span, pages: pages}
	if old != nil {
		if old.refs <= 0 {
			if err := pal.Unmap(old.span); err != nil {
				logger.Warnf("unmap generation %d of %s: %v", old.gen, db.path, err)
			}
		} else {
			db.retired = append(db.retired, old)
		}
	}
	logger.Debugf("mapped %s generation %d with %d pages", db.path, db.nextGen, pages)
	return nil
}

// unmapAll 关闭数据库时解除没有引用的映射，仍被泄漏事务持有的映射保留
func (db *Database) unmapAll() {
	db.mapLatch.Lock()
	defer db.mapLatch.Unlock()
	if db.current != nil && db.current.refs <= 0 {
		if err := pal.Unmap(db.current.span); err != nil {
			logger.Warnf("unmap generation %d of %s: %v", db.current.gen, db.path, err)
		}
	} else if db.current != nil {
		db.retired = append(db.retired, db.current)
	}
	db.current = nil
	kept := db.retired[:0]
	for _, m := range db.retired {
		if m.refs <= 0 {
			if err := pal.Unmap(m.span); err != nil {
				logger.Warnf("unmap generation %d of %s: %v", m.gen, db.path, err)
			}
			continue
		}
		kept = append(kept, m)
	}
	db.retired = kept
}
