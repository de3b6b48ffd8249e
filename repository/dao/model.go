package dao

import (
	"github.com/TimeWtr/job_scheduler/domain"
)

// ScheduledJob 调度表模型
type ScheduledJob struct {
	// JobID 全局唯一标识
	JobID string `gorm:"column:job_id;type:varchar(64);primaryKey;not null" json:"job_id"`
	// NodeID 所属节点，NULL表示未认领
	NodeID *string `gorm:"column:node_id;type:varchar(64);index:idx_ode_job_node" json:"node_id"`
	// Ts 最早执行时间，毫秒时间戳
	Ts int64 `gorm:"column:ts;not null;index:idx_ode_job_ts" json:"ts"`
	// Scheduled 执行中标记
	Scheduled bool `gorm:"column:scheduled;not null" json:"scheduled"`
	// Transacted 是否在事务中执行
	Transacted bool `gorm:"column:transacted;not null" json:"transacted"`

	InstanceID     string `gorm:"column:instance_id;type:varchar(255)" json:"instance_id"`
	MexID          string `gorm:"column:mex_id;type:varchar(255)" json:"mex_id"`
	ProcessID      string `gorm:"column:process_id;type:varchar(255)" json:"process_id"`
	JobType        string `gorm:"column:job_type;type:varchar(255)" json:"job_type"`
	Channel        string `gorm:"column:channel;type:varchar(255)" json:"channel"`
	CorrelatorID   string `gorm:"column:correlator_id;type:varchar(255)" json:"correlator_id"`
	CorrelationKey string `gorm:"column:correlation_key;type:varchar(255)" json:"correlation_key"`

	// RetryCount 投递次数
	RetryCount int `gorm:"column:retry_count;not null" json:"retry_count"`
	// InMem 内存任务标记
	InMem bool `gorm:"column:in_mem;not null" json:"in_mem"`
	// DetailsExt 扩展字段，msgpack编码
	DetailsExt []byte `gorm:"column:details_ext" json:"details_ext"`
}

func (ScheduledJob) TableName() string {
	return "ode_job"
}

func toModel(job *domain.Job) (ScheduledJob, error) {
	ext, err := job.Details.EncodeExt()
	if err != nil {
		return ScheduledJob{}, err
	}

	return ScheduledJob{
		JobID:          job.JobID,
		NodeID:         nullable(job.NodeID),
		Ts:             job.ScheduledTime,
		Scheduled:      job.Scheduled,
		Transacted:     job.Transacted,
		InstanceID:     job.Details.InstanceID,
		MexID:          job.Details.MexID,
		ProcessID:      job.Details.ProcessID,
		JobType:        job.Details.Type,
		Channel:        job.Details.Channel,
		CorrelatorID:   job.Details.CorrelatorID,
		CorrelationKey: job.Details.CorrelationKey,
		RetryCount:     job.RetryCount,
		InMem:          job.InMem,
		DetailsExt:     ext,
	}, nil
}

func toDomain(row ScheduledJob) (*domain.Job, error) {
	ext, err := domain.DecodeExt(row.DetailsExt)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		JobID:         row.JobID,
		ScheduledTime: row.Ts,
		Scheduled:     row.Scheduled,
		Transacted:    row.Transacted,
		RetryCount:    row.RetryCount,
		InMem:         row.InMem,
		Details: domain.JobDetails{
			InstanceID:     row.InstanceID,
			MexID:          row.MexID,
			ProcessID:      row.ProcessID,
			Type:           row.JobType,
			Channel:        row.Channel,
			CorrelatorID:   row.CorrelatorID,
			CorrelationKey: row.CorrelationKey,
			Ext:            ext,
		},
	}
	if row.NodeID != nil {
		job.NodeID = *row.NodeID
	}
	return job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
