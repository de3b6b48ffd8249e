package dao

import (
	"context"
	"errors"
	"fmt"
	_const "github.com/TimeWtr/job_scheduler/const"
	"github.com/TimeWtr/job_scheduler/domain"
	"github.com/TimeWtr/job_scheduler/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"sort"
	"time"
)

var (
	ErrClaimInconsistent = errors.New("dao: marked rows do not match selected rows")
	ErrJobNotFound       = errors.New("dao: job not found")
	ErrInvalidPartition  = errors.New("dao: invalid partition")
)

var _ repository.JobStore = (*Store)(nil)

// 标记scheduled时每批的Job数量
const markBatchSize = 10

type Options func(s *Store)

// WithDialect 指定方言，不再根据数据库产品名探测
func WithDialect(name string) Options {
	return func(s *Store) {
		if d, ok := LookupDialect(name); ok {
			s.dialect = d
		}
	}
}

// WithClaimStrategy 设置出队认领策略
func WithClaimStrategy(strategy _const.ClaimStrategy) Options {
	return func(s *Store) {
		s.claim = strategy
	}
}

// Store 基于gorm的调度表存储，方言在构造时确定一次
type Store struct {
	db      *gorm.DB
	dialect Dialect
	claim   _const.ClaimStrategy
}

func NewStore(db *gorm.DB, opts ...Options) *Store {
	s := &Store{
		db:    db,
		claim: _const.ClaimSelectThenMark,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.dialect == nil {
		s.dialect = DetectDialect(productName(db))
	}

	return s
}

func productName(db *gorm.DB) string {
	if db == nil || db.Config == nil || db.Dialector == nil {
		return ""
	}
	return db.Dialector.Name()
}

// Dialect 当前使用的方言
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Migrate 建表
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&ScheduledJob{})
}

// CreateJob 创建新Job，不涉及IO
func (s *Store) CreateJob(details domain.JobDetails, when time.Time, transacted bool) *domain.Job {
	return domain.NewJob(details, when, transacted, false)
}

func (s *Store) InsertJob(ctx context.Context, job *domain.Job, nodeID string, markInFlight bool) error {
	row, err := toModel(job)
	if err != nil {
		return fmt.Errorf("dao: encode job %s: %w", job.JobID, err)
	}

	row.NodeID = nullable(nodeID)
	row.Scheduled = markInFlight
	if err = s.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("dao: insert job %s: %w", job.JobID, err)
	}

	job.NodeID = nodeID
	job.Scheduled = markInFlight
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, jobID, nodeID string) (bool, error) {
	res := whereNode(s.conn(ctx), nodeID).
		Where("job_id = ?", jobID).
		Delete(&ScheduledJob{})
	if res.Error != nil {
		return false, fmt.Errorf("dao: delete job %s: %w", jobID, res.Error)
	}

	return res.RowsAffected == 1, nil
}

func (s *Store) DequeueImmediate(ctx context.Context, nodeID string,
	maxTime int64, maxJobs int) ([]*domain.Job, error) {
	if maxJobs <= 0 {
		return []*domain.Job{}, nil
	}

	if s.claim == _const.ClaimAtomic && s.dialect.SupportsReturning() {
		return s.dequeueAtomic(ctx, nodeID, maxTime, maxJobs)
	}

	var jobs []*domain.Job
	err := s.Transaction(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)

		var rows []ScheduledJob
		err := db.Where("node_id = ? AND scheduled = ? AND ts < ?", nodeID, false, maxTime).
			Order("ts ASC").
			Limit(maxJobs).
			Find(&rows).Error
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.JobID)
		}

		var marked int64
		for start := 0; start < len(ids); start += markBatchSize {
			end := min(start+markBatchSize, len(ids))
			res := db.Model(&ScheduledJob{}).
				Where("job_id IN ? AND scheduled = ?", ids[start:end], false).
				Update("scheduled", true)
			if res.Error != nil {
				return res.Error
			}
			marked += res.RowsAffected
		}

		if marked != int64(len(rows)) {
			return fmt.Errorf("%w: selected %d, marked %d", ErrClaimInconsistent, len(rows), marked)
		}

		jobs, err = toDomainJobs(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dao: dequeue for node %s: %w", nodeID, err)
	}

	return jobs, nil
}

// dequeueAtomic 用一条 UPDATE ... RETURNING 完成认领
func (s *Store) dequeueAtomic(ctx context.Context, nodeID string,
	maxTime int64, maxJobs int) ([]*domain.Job, error) {
	db := s.conn(ctx)
	candidates := db.Model(&ScheduledJob{}).
		Select("job_id").
		Where("node_id = ? AND scheduled = ? AND ts < ?", nodeID, false, maxTime).
		Order("ts ASC").
		Limit(maxJobs)

	var rows []ScheduledJob
	err := db.Model(&rows).
		Clauses(clause.Returning{}).
		Where("job_id IN (?) AND scheduled = ?", candidates, false).
		Update("scheduled", true).Error
	if err != nil {
		return nil, fmt.Errorf("dao: atomic dequeue for node %s: %w", nodeID, err)
	}

	// RETURNING不保证顺序
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Ts < rows[j].Ts
	})
	return toDomainJobs(rows)
}

func (s *Store) UpdateAssignToNode(ctx context.Context, nodeID string,
	index, count int, maxTime int64) (int64, error) {
	if count <= 0 || index < 0 || index >= count {
		return -1, fmt.Errorf("%w: index %d of %d", ErrInvalidPartition, index, count)
	}

	res := s.conn(ctx).Model(&ScheduledJob{}).
		Where("node_id IS NULL AND scheduled = ? AND ts < ?", false, maxTime).
		Where(s.dialect.ModPredicate("ts"), count, index).
		Update("node_id", nodeID)
	if res.Error != nil {
		return -1, fmt.Errorf("dao: assign partition %d/%d to %s: %w", index, count, nodeID, res.Error)
	}

	return res.RowsAffected, nil
}

func (s *Store) UpdateReassign(ctx context.Context, oldNodeID, newNodeID string) (int64, error) {
	res := s.conn(ctx).Model(&ScheduledJob{}).
		Where("node_id = ?", oldNodeID).
		Updates(map[string]interface{}{
			"node_id":   newNodeID,
			"scheduled": false,
		})
	if res.Error != nil {
		return -1, fmt.Errorf("dao: reassign %s to %s: %w", oldNodeID, newNodeID, res.Error)
	}

	return res.RowsAffected, nil
}

func (s *Store) GetNodeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.conn(ctx).Model(&ScheduledJob{}).
		Where("node_id IS NOT NULL").
		Distinct().
		Pluck("node_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("dao: list node ids: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

func (s *Store) CancelJob(ctx context.Context, jobID string) (bool, error) {
	res := s.conn(ctx).
		Where("job_id = ? AND scheduled = ?", jobID, false).
		Delete(&ScheduledJob{})
	if res.Error != nil {
		return false, fmt.Errorf("dao: cancel job %s: %w", jobID, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// GetJob 按ID查询
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row ScheduledJob
	err := s.conn(ctx).Where("job_id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dao: get job %s: %w", jobID, err)
	}

	return toDomain(row)
}

// CountJobs 统计节点下的Job数量，nodeID为空时统计未认领的Job
func (s *Store) CountJobs(ctx context.Context, nodeID string) (int64, error) {
	var count int64
	err := whereNode(s.conn(ctx).Model(&ScheduledJob{}), nodeID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("dao: count jobs: %w", err)
	}
	return count, nil
}

func whereNode(db *gorm.DB, nodeID string) *gorm.DB {
	if nodeID == "" {
		return db.Where("node_id IS NULL")
	}
	return db.Where("node_id = ?", nodeID)
}

func toDomainJobs(rows []ScheduledJob) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := toDomain(row)
		if err != nil {
			return nil, fmt.Errorf("decode job %s: %w", row.JobID, err)
		}
		job.Scheduled = true
		jobs = append(jobs, job)
	}
	return jobs, nil
}
