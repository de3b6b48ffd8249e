package api

import (
	"github.com/TimeWtr/job_scheduler/domain"
	"time"
)

type CreateJobRequest struct {
	Type           string         `json:"type"`
	InstanceID     string         `json:"instanceId"`
	MexID          string         `json:"mexId"`
	ProcessID      string         `json:"processId"`
	Channel        string         `json:"channel"`
	CorrelatorID   string         `json:"correlatorId"`
	CorrelationKey string         `json:"correlationKey"`
	Ext            map[string]any `json:"ext"`
	// At 绝对执行时间，优先于DelayMs
	At         *time.Time `json:"at"`
	DelayMs    int64      `json:"delayMs"`
	Transacted bool       `json:"transacted"`
	InMemory   bool       `json:"inMemory"`
}

func (r CreateJobRequest) details() domain.JobDetails {
	return domain.JobDetails{
		InstanceID:     r.InstanceID,
		MexID:          r.MexID,
		ProcessID:      r.ProcessID,
		Type:           r.Type,
		Channel:        r.Channel,
		CorrelatorID:   r.CorrelatorID,
		CorrelationKey: r.CorrelationKey,
		Ext:            r.Ext,
	}
}

func (r CreateJobRequest) when(now time.Time) time.Time {
	if r.At != nil {
		return *r.At
	}
	return now.Add(time.Duration(r.DelayMs) * time.Millisecond)
}

type CreateJobResponse struct {
	JobID string `json:"jobId"`
}

type NodesResponse struct {
	Nodes []string `json:"nodes"`
}

type ReassignResponse struct {
	Node       string `json:"node"`
	Reassigned int64  `json:"reassigned"`
}
