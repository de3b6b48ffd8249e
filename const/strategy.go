package _const

// ClaimStrategy 出队认领策略
type ClaimStrategy int

const (
	ClaimSelectThenMark ClaimStrategy = 0x00000001 // 先查询再分批标记scheduled，单节点单出队者前提下安全
	ClaimAtomic         ClaimStrategy = 0x00000002 // UPDATE ... RETURNING一次完成查询和标记，方言不支持时退化为ClaimSelectThenMark
)

func (s ClaimStrategy) String() string {
	switch s {
	case ClaimSelectThenMark:
		return "select-then-mark"
	case ClaimAtomic:
		return "atomic"
	default:
		return "unknown"
	}
}
