package domain

import (
	"fmt"
	_const "github.com/TimeWtr/job_scheduler/const"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"time"
)

// 扩展字段中与规范字段同名的键，扩展值优先
const (
	KeyInstanceID     = "instanceId"
	KeyMexID          = "mexId"
	KeyProcessID      = "processId"
	KeyType           = "type"
	KeyChannel        = "channel"
	KeyCorrelatorID   = "correlatorId"
	KeyCorrelationKey = "correlationKey"
)

// JobDetails 续体描述，对调度器不透明
type JobDetails struct {
	InstanceID     string
	MexID          string
	ProcessID      string
	Type           string
	Channel        string
	CorrelatorID   string
	CorrelationKey string
	// Ext 扩展字段，新版本生产者写入的字段无需迁移表结构
	Ext map[string]any
}

// Effective 返回扩展字段覆盖之后的详情副本
func (d JobDetails) Effective() JobDetails {
	res := d
	res.Ext = d.cloneExt()
	if len(d.Ext) == 0 {
		return res
	}

	override(&res.InstanceID, d.Ext, KeyInstanceID)
	override(&res.MexID, d.Ext, KeyMexID)
	override(&res.ProcessID, d.Ext, KeyProcessID)
	override(&res.Type, d.Ext, KeyType)
	override(&res.Channel, d.Ext, KeyChannel)
	override(&res.CorrelatorID, d.Ext, KeyCorrelatorID)
	override(&res.CorrelationKey, d.Ext, KeyCorrelationKey)
	return res
}

func (d JobDetails) cloneExt() map[string]any {
	if d.Ext == nil {
		return nil
	}

	res := make(map[string]any, len(d.Ext))
	for k, v := range d.Ext {
		res[k] = v
	}
	return res
}

func override(dst *string, ext map[string]any, key string) {
	v, ok := ext[key]
	if !ok || v == nil {
		return
	}

	switch val := v.(type) {
	case string:
		*dst = val
	case []byte:
		*dst = string(val)
	default:
		*dst = fmt.Sprint(val)
	}
}

// EncodeExt 扩展字段序列化为二进制，空扩展返回nil
func (d JobDetails) EncodeExt() ([]byte, error) {
	if len(d.Ext) == 0 {
		return nil, nil
	}
	return msgpack.Marshal(d.Ext)
}

// DecodeExt 反序列化扩展字段
func DecodeExt(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var ext map[string]any
	if err := msgpack.Unmarshal(data, &ext); err != nil {
		return nil, err
	}
	return ext, nil
}

// Job 调度表中的一条记录
type Job struct {
	// JobID 全局唯一，创建后不可变
	JobID string
	// NodeID 所属节点，空串表示未认领
	NodeID string
	// ScheduledTime 最早执行时间，毫秒时间戳
	ScheduledTime int64
	// Scheduled 出队执行中标记
	Scheduled bool
	// Transacted 执行和删除是否在同一个事务中完成
	Transacted bool
	// RetryCount 投递次数，只增不减
	RetryCount int
	// InMem 内存任务，不落库
	InMem bool
	// Details 续体描述，只写一次
	Details JobDetails
}

// NewJob 创建Job，生成新的JobID，不涉及IO
func NewJob(details JobDetails, when time.Time, transacted, inMem bool) *Job {
	return &Job{
		JobID:         uuid.NewString(),
		ScheduledTime: when.UnixMilli(),
		Transacted:    transacted,
		InMem:         inMem,
		Details:       details,
	}
}

// State 由node_id和scheduled推导出的状态
func (j *Job) State() _const.JobState {
	switch {
	case j.Scheduled:
		return _const.JobStateInFlight
	case j.NodeID != "":
		return _const.JobStateClaimed
	default:
		return _const.JobStateUnclaimed
	}
}

// Due 是否已到执行时间
func (j *Job) Due(now time.Time) bool {
	return j.ScheduledTime <= now.UnixMilli()
}

// When 执行时间
func (j *Job) When() time.Time {
	return time.UnixMilli(j.ScheduledTime)
}

// Retry 失败后重新创建的Job：新ID，相同详情，重试次数加一
func (j *Job) Retry(when time.Time) *Job {
	next := NewJob(j.Details, when, j.Transacted, j.InMem)
	next.RetryCount = j.RetryCount + 1
	return next
}
