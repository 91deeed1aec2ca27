package basic

// TxFlags 事务类型
type TxFlags uint32

const (
	TxRead  TxFlags = 1
	TxWrite TxFlags = 2
)

// TxState 事务状态: Open -> Committed -> Closed 或 Open -> Closed
type TxState uint8

const (
	TX_STATE_OPEN TxState = iota
	TX_STATE_COMMITTED
	TX_STATE_CLOSED
)

func (s TxState) String() string {
	switch s {
	case TX_STATE_OPEN:
		return "open"
	case TX_STATE_COMMITTED:
		return "committed"
	case TX_STATE_CLOSED:
		return "closed"
	}
	return "unknown"
}
