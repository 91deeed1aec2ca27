package mvcc

// ReadView 事务打开时固定的快照版本。版本号不大于快照版本的提交可见。
type ReadView struct {
	txID    uint64
	version uint64
}

// NewReadView 创建新的ReadView
func NewReadView(txID, version uint64) *ReadView {
	return &ReadView{txID: txID, version: version}
}

// IsVisible 判断给定版本是否对当前事务可见
func (rv *ReadView) IsVisible(version uint64) bool {
	return version <= rv.version
}

// GetVersion 快照版本
func (rv *ReadView) GetVersion() uint64 {
	return rv.version
}

// GetTxID 创建该ReadView的事务ID
func (rv *ReadView) GetTxID() uint64 {
	return rv.txID
}
