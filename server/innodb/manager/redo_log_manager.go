package manager

import (
	"sync"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/diag"
	"github.com/zhukovaskychina/xpagestore/server/innodb/basic"
	"github.com/zhukovaskychina/xpagestore/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xpagestore/server/pal"
	"github.com/zhukovaskychina/xpagestore/util"
)

// redoLogFile 一个 WAL 文件及其写入状态
type redoLogFile struct {
	handle       *pal.FileHandle
	size         uint64
	lastWritePos uint64
	lastVersion  uint64
}

func (f *redoLogFile) written() bool {
	return f.lastWritePos > 0
}

// RedoLogManager 管理两个交替使用的 WAL 文件。提交写入与检查点切换可以并发调用。
type RedoLogManager struct {
	mu      sync.Mutex
	files   [2]*redoLogFile
	cur     int
	walSize uint64
}

// RecoveryResult 恢复结果
type RecoveryResult struct {
	Replayed     int
	FirstVersion uint64
	LastVersion  uint64
	StopReason   string
	// Skipped 已写回数据文件、但没有连续覆盖到文件头版本而放弃回放的记录数
	Skipped int
}

// walFileNames 数据文件对应的两个 WAL 文件名
func walFileNames(path string) [2]string {
	return [2]string{path + common.WAL_SUFFIX_A, path + common.WAL_SUFFIX_B}
}

// NewRedoLogManager 打开或创建两个 WAL 文件，文件不小于 walSize
func NewRedoLogManager(path string, walSize uint64) (*RedoLogManager, error) {
	m := &RedoLogManager{walSize: walSize}
	for i, name := range walFileNames(path) {
		h, err := pal.CreateFile(name)
		if err != nil {
			m.Close()
			return nil, basic.FromDiag(diag.Default, err)
		}
		m.files[i] = &redoLogFile{handle: h}
		if err := h.SetMinSize(walSize); err != nil {
			m.Close()
			return nil, basic.FromDiag(diag.Default, err)
		}
		if m.files[i].size, err = h.Size(); err != nil {
			m.Close()
			return nil, basic.FromDiag(diag.Default, err)
		}
	}
	return m, nil
}

func (m *RedoLogManager) closed() bool {
	return m.files[0] == nil || m.files[1] == nil
}

// Append 写入一条记录并同步。失败时写入位置不前进。
func (m *RedoLogManager) Append(version uint64, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed() {
		return basic.NewError(basic.ErrInvalidState, "wal is closed")
	}
	f := m.files[m.cur]
	need := f.lastWritePos + uint64(len(record))
	if need > f.size {
		grow := util.NextPowerOfTwo(f.size / 10)
		if min := 2 * uint64(len(record)); grow < min {
			grow = min
		}
		newSize := f.size + grow
		if err := f.handle.SetMinSize(newSize); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
		logger.Debugf("wal %s grown from %d to %d bytes", f.handle.Filename(), f.size, newSize)
		f.size = newSize
	}
	if err := f.handle.WriteAt(f.lastWritePos, record); err != nil {
		return basic.FromDiag(diag.Default, err)
	}
	if err := f.handle.Sync(); err != nil {
		return basic.FromDiag(diag.Default, err)
	}
	f.lastWritePos = need
	f.lastVersion = version
	return nil
}

// WillCheckpoint 当前文件已写过半，且另一个文件的内容都已写回数据文件
func (m *RedoLogManager) WillCheckpoint(watermark uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed() {
		return false
	}
	cur, other := m.files[m.cur], m.files[1-m.cur]
	return cur.lastWritePos > m.walSize/2 && watermark > other.lastVersion
}

// Checkpoint 数据文件已同步到 watermark 之后调用：重置已写回的文件，必要时切换当前文件
func (m *RedoLogManager) Checkpoint(watermark uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed() {
		return basic.NewError(basic.ErrInvalidState, "wal is closed")
	}
	cur, other := m.files[m.cur], m.files[1-m.cur]
	if other.written() {
		if err := m.reset(other); err != nil {
			return err
		}
	}
	if watermark >= cur.lastVersion {
		return m.reset(cur)
	}
	m.cur = 1 - m.cur
	logger.Debugf("wal switched to %s at watermark %d", m.files[m.cur].handle.Filename(), watermark)
	return nil
}

// reset 清零文件开头的对齐块并截断到初始大小
func (m *RedoLogManager) reset(f *redoLogFile) error {
	zero := make([]byte, common.WRITE_ALIGNMENT)
	if err := f.handle.WriteAt(0, zero); err != nil {
		return basic.FromDiag(diag.Default, err)
	}
	if err := f.handle.Sync(); err != nil {
		return basic.FromDiag(diag.Default, err)
	}
	if f.size > m.walSize {
		if err := f.handle.Truncate(m.walSize); err != nil {
			return basic.FromDiag(diag.Default, err)
		}
		f.size = m.walSize
	}
	f.lastWritePos = 0
	f.lastVersion = 0
	logger.Debugf("wal %s reset", f.handle.Filename())
	return nil
}

// ResetAll 重置两个文件，从 A 开始写
func (m *RedoLogManager) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed() {
		return basic.NewError(basic.ErrInvalidState, "wal is closed")
	}
	for _, f := range m.files {
		if err := m.reset(f); err != nil {
			return err
		}
	}
	m.cur = 0
	return nil
}

// Position 当前文件编号与写入位置
func (m *RedoLogManager) Position() (int, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed() {
		return m.cur, 0
	}
	return m.cur, m.files[m.cur].lastWritePos
}

// collect 对两个文件取值，已关闭的文件为 0
func (m *RedoLogManager) collect(get func(f *redoLogFile) uint64) [2]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [2]uint64
	for i, f := range m.files {
		if f != nil {
			out[i] = get(f)
		}
	}
	return out
}

// Positions 两个文件的写入位置
func (m *RedoLogManager) Positions() [2]uint64 {
	return m.collect(func(f *redoLogFile) uint64 { return f.lastWritePos })
}

// LastVersions 两个文件最后写入的版本
func (m *RedoLogManager) LastVersions() [2]uint64 {
	return m.collect(func(f *redoLogFile) uint64 { return f.lastVersion })
}

// Sizes 两个文件的当前大小
func (m *RedoLogManager) Sizes() [2]uint64 {
	return m.collect(func(f *redoLogFile) uint64 { return f.size })
}

// Close 关闭两个文件
func (m *RedoLogManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for i, f := range m.files {
		if f == nil {
			continue
		}
		if err := f.handle.Close(); err != nil && first == nil {
			first = basic.FromDiag(diag.Default, err)
		}
		m.files[i] = nil
	}
	return first
}

// scannedRecord 扫描得到的有效记录
type scannedRecord struct {
	record *logs.Record
	offset uint64
}

// scan 从头读取文件中的有效记录，遇到第一条无效记录即停止
func (f *redoLogFile) scan() ([]scannedRecord, string, error) {
	buf := make([]byte, f.size)
	n, err := f.handle.ReadAt(0, buf)
	if err != nil {
		return nil, "", basic.FromDiag(diag.Default, err)
	}
	buf = buf[:n]

	var out []scannedRecord
	var pos uint64
	for pos < uint64(len(buf)) {
		rec, err := logs.Decode(buf[pos:])
		if err == logs.ErrEndOfLog {
			return out, "", nil
		}
		if err != nil {
			return out, err.Error(), nil
		}
		out = append(out, scannedRecord{record: rec, offset: pos})
		pos += rec.AlignedSize
	}
	return out, "", nil
}

// Recover 按版本顺序回放两个文件中连续的记录。
// 第一条记录的版本不能大于 applied+1，之后每条必须恰好加一，遇到断点即停止。
// 连续记录没有到达 applied 时一条也不回放，已写回的数据文件比残缺的重放更新。
func (m *RedoLogManager) Recover(applied uint64, apply func(rec *logs.Record) error) (RecoveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res RecoveryResult
	if m.closed() {
		return res, basic.NewError(basic.ErrInvalidState, "wal is closed")
	}
	var scans [2][]scannedRecord
	for i, f := range m.files {
		recs, reason, err := f.scan()
		if err != nil {
			return res, err
		}
		if reason != "" {
			logger.Warnf("wal %s: %s after %d records, discarding the rest", f.handle.Filename(), reason, len(recs))
			if res.StopReason == "" {
				res.StopReason = reason
			}
		}
		scans[i] = recs
	}

	order := []int{0, 1}
	switch {
	case len(scans[0]) == 0:
		order = []int{1, 0}
	case len(scans[1]) > 0 && scans[1][0].record.Version < scans[0][0].record.Version:
		order = []int{1, 0}
	}

	var seq []*logs.Record
	var last uint64
collect:
	for _, idx := range order {
		for _, sr := range scans[idx] {
			v := sr.record.Version
			if len(seq) == 0 {
				if v > applied+1 {
					res.StopReason = errors.Errorf("wal starts at version %d but data file is at %d", v, applied).Error()
					logger.Warnf("wal recovery: %s", res.StopReason)
					return res, nil
				}
			} else if v != last+1 {
				logger.Debugf("wal %s: version %d at offset %d does not follow %d, stopping",
					m.files[idx].handle.Filename(), v, sr.offset, last)
				break collect
			}
			seq = append(seq, sr.record)
			last = v
		}
	}
	if len(seq) == 0 {
		return res, nil
	}
	if last < applied {
		logger.Warnf("wal recovery: records %d..%d end before data file version %d, skipping them",
			seq[0].Version, last, applied)
		res.Skipped = len(seq)
		return res, nil
	}

	res.FirstVersion = seq[0].Version
	for _, rec := range seq {
		if err := apply(rec); err != nil {
			return res, errors.Annotatef(err, "replay version %d", rec.Version)
		}
		res.LastVersion = rec.Version
		res.Replayed++
	}
	return res, nil
}
