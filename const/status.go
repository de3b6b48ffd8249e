package _const

// JobState Job在调度表中的状态，由node_id和scheduled两列推导而来
type JobState int

const (
	JobStateUnclaimed JobState = 0x00000001 // 未被任何节点认领，node_id为空
	JobStateClaimed   JobState = 0x00000002 // 已分配给节点，等待出队
	JobStateInFlight  JobState = 0x00000003 // 已被节点出队，执行中
)

func (s JobState) String() string {
	switch s {
	case JobStateUnclaimed:
		return "Unclaimed"
	case JobStateClaimed:
		return "Claimed"
	case JobStateInFlight:
		return "InFlight"
	default:
		return "Unknown"
	}
}
