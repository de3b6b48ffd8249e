package dao

import (
	"context"
	"errors"
	_const "github.com/TimeWtr/job_scheduler/const"
	"github.com/TimeWtr/job_scheduler/domain"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Options) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "scheduler.db") + "?_busy_timeout=5000"
	db, err := Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	s := NewStore(db, opts...)
	if err = s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newJobAt(ts int64) *domain.Job {
	j := domain.NewJob(domain.JobDetails{
		InstanceID: "100",
		Type:       _const.JobTypeTimer.String(),
	}, time.UnixMilli(ts), false, false)
	return j
}

func insert(t *testing.T, s *Store, job *domain.Job, nodeID string, inFlight bool) {
	t.Helper()
	if err := s.InsertJob(context.Background(), job, nodeID, inFlight); err != nil {
		t.Fatalf("insert job: %v", err)
	}
}

func TestStore_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	j := newJobAt(now - 1000)
	insert(t, s, j, "n1", false)

	jobs, err := s.DequeueImmediate(ctx, "n1", now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].JobID != j.JobID {
		t.Fatalf("dequeue = %+v, want [%s]", jobs, j.JobID)
	}
	if !jobs[0].Scheduled {
		t.Fatal("dequeued job should be marked scheduled")
	}

	stored, err := s.GetJob(ctx, j.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State() != _const.JobStateInFlight {
		t.Fatalf("stored state = %s, want InFlight", stored.State())
	}

	ok, err := s.DeleteJob(ctx, j.JobID, "n1")
	if err != nil || !ok {
		t.Fatalf("DeleteJob = %v, %v", ok, err)
	}

	jobs, err = s.DequeueImmediate(ctx, "n1", now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty dequeue, got %d jobs", len(jobs))
	}
}

func TestStore_DequeueOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, ts := range []int64{50, 10, 40, 20, 30, 200} {
		insert(t, s, newJobAt(ts), "n1", false)
	}
	insert(t, s, newJobAt(5), "n2", false)
	insert(t, s, newJobAt(6), "n1", true)

	first, err := s.DequeueImmediate(ctx, "n1", 100, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertTimes(t, first, 10, 20, 30)

	second, err := s.DequeueImmediate(ctx, "n1", 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	assertTimes(t, second, 40, 50)

	seen := make(map[string]struct{})
	for _, j := range append(first, second...) {
		if _, ok := seen[j.JobID]; ok {
			t.Fatalf("job %s returned by two dequeue calls", j.JobID)
		}
		seen[j.JobID] = struct{}{}
	}

	third, err := s.DequeueImmediate(ctx, "n1", 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 0 {
		t.Fatalf("expected no more due jobs, got %d", len(third))
	}
}

func TestStore_DequeueMarksInBatches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 25; i++ {
		insert(t, s, newJobAt(int64(i)), "n1", false)
	}

	jobs, err := s.DequeueImmediate(ctx, "n1", 1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 25 {
		t.Fatalf("dequeued %d, want 25", len(jobs))
	}

	var inFlight int64
	err = s.db.Model(&ScheduledJob{}).Where("scheduled = ?", true).Count(&inFlight).Error
	if err != nil {
		t.Fatal(err)
	}
	if inFlight != 25 {
		t.Fatalf("%d rows marked, want 25", inFlight)
	}
}

func TestStore_DequeueInconsistentClaimRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, ts := range []int64{10, 20, 30} {
		insert(t, s, newJobAt(ts), "n1", false)
	}

	// 查询之后、标记之前，同一事务中有一行被抢先标记
	var fired atomic.Bool
	err := s.db.Callback().Query().After("gorm:query").Register("test:mark_first", func(tx *gorm.DB) {
		rows, ok := tx.Statement.Dest.(*[]ScheduledJob)
		if !ok || len(*rows) == 0 || !fired.CompareAndSwap(false, true) {
			return
		}
		err := tx.Session(&gorm.Session{NewDB: true}).
			Model(&ScheduledJob{}).
			Where("job_id = ?", (*rows)[0].JobID).
			Update("scheduled", true).Error
		if err != nil {
			t.Errorf("mark first row: %v", err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	jobs, err := s.DequeueImmediate(ctx, "n1", 100, 10)
	if !errors.Is(err, ErrClaimInconsistent) {
		t.Fatalf("err = %v, want ErrClaimInconsistent", err)
	}
	if jobs != nil {
		t.Fatalf("jobs = %v, want none", jobs)
	}

	var inFlight int64
	if err = s.db.Model(&ScheduledJob{}).Where("scheduled = ?", true).Count(&inFlight).Error; err != nil {
		t.Fatal(err)
	}
	if inFlight != 0 {
		t.Fatalf("%d rows left marked after a failed claim", inFlight)
	}

	// 下一次出队正常认领全部Job
	jobs, err = s.DequeueImmediate(ctx, "n1", 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	assertTimes(t, jobs, 10, 20, 30)
}

func TestStore_DequeueAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithClaimStrategy(_const.ClaimAtomic))

	for _, ts := range []int64{30, 10, 20} {
		insert(t, s, newJobAt(ts), "n1", false)
	}

	jobs, err := s.DequeueImmediate(ctx, "n1", 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	assertTimes(t, jobs, 10, 20)

	rest, err := s.DequeueImmediate(ctx, "n1", 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	assertTimes(t, rest, 30)
}

func TestStore_PartitionScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := int64(0); i < 10; i++ {
		insert(t, s, newJobAt(i), "", false)
	}

	n1, err := s.UpdateAssignToNode(ctx, "n1", 0, 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := s.UpdateAssignToNode(ctx, "n2", 1, 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n1 != 5 || n2 != 5 {
		t.Fatalf("claimed n1=%d n2=%d, want 5 and 5", n1, n2)
	}

	var rows []ScheduledJob
	if err = s.db.Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		want := "n1"
		if row.Ts%2 == 1 {
			want = "n2"
		}
		if row.NodeID == nil || *row.NodeID != want {
			t.Fatalf("job ts=%d owned by %v, want %s", row.Ts, row.NodeID, want)
		}
	}
}

func TestStore_AssignSkipsIneligible(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insert(t, s, newJobAt(2), "", true)   // in flight
	insert(t, s, newJobAt(4), "n9", false) // already claimed
	insert(t, s, newJobAt(500), "", false) // not due
	insert(t, s, newJobAt(6), "", false)

	n, err := s.UpdateAssignToNode(ctx, "n1", 0, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("claimed %d, want 1", n)
	}

	if _, err = s.UpdateAssignToNode(ctx, "n1", 2, 2, 100); !errors.Is(err, ErrInvalidPartition) {
		t.Fatalf("expected ErrInvalidPartition, got %v", err)
	}
}

func TestStore_ConcurrentPartitionersClaimOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const (
		partitions = 4
		total      = 40
	)
	for i := int64(0); i < total; i++ {
		insert(t, s, newJobAt(i*7), "", false)
	}

	var claimed atomic.Int64
	var eg errgroup.Group
	for i := 0; i < partitions; i++ {
		idx := i
		eg.Go(func() error {
			n, err := s.UpdateAssignToNode(ctx, nodeName(idx), idx, partitions, 1_000_000)
			if err != nil {
				return err
			}
			claimed.Add(n)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if claimed.Load() != total {
		t.Fatalf("claimed %d jobs, want %d", claimed.Load(), total)
	}

	unclaimed, err := s.CountJobs(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if unclaimed != 0 {
		t.Fatalf("%d jobs left unclaimed", unclaimed)
	}

	again, err := s.UpdateAssignToNode(ctx, "n0", 0, partitions, 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 {
		t.Fatalf("second pass claimed %d jobs", again)
	}
}

func TestStore_Reassign(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insert(t, s, newJobAt(1), "A", false)
	insert(t, s, newJobAt(2), "A", true)
	insert(t, s, newJobAt(3), "A", false)
	insert(t, s, newJobAt(4), "C", true)

	n, err := s.UpdateReassign(ctx, "A", "B")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("moved %d, want 3", n)
	}

	left, err := s.CountJobs(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Fatalf("%d jobs still owned by A", left)
	}

	jobs, err := s.DequeueImmediate(ctx, "B", 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	assertTimes(t, jobs, 1, 2, 3)

	ids, err := s.GetNodeIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "B" || ids[1] != "C" {
		t.Fatalf("node ids = %v, want [B C]", ids)
	}
}

func TestStore_DeleteJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	j := newJobAt(1)
	insert(t, s, j, "n1", false)

	testCases := []struct {
		name   string
		nodeID string
		want   bool
	}{
		{name: "wrong node", nodeID: "n2", want: false},
		{name: "owner", nodeID: "n1", want: true},
		{name: "already gone", nodeID: "n1", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.DeleteJob(ctx, j.JobID, tc.nodeID)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("DeleteJob = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	j := newJobAt(1)
	insert(t, s, j, "", false)

	dup := *j
	if err := s.InsertJob(context.Background(), &dup, "n1", false); err == nil {
		t.Fatal("expected error for duplicate job id")
	}
}

func TestStore_CancelJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	waiting := newJobAt(1)
	running := newJobAt(2)
	insert(t, s, waiting, "", false)
	insert(t, s, running, "n1", true)

	ok, err := s.CancelJob(ctx, waiting.JobID)
	if err != nil || !ok {
		t.Fatalf("cancel waiting job = %v, %v", ok, err)
	}
	ok, err = s.CancelJob(ctx, running.JobID)
	if err != nil || ok {
		t.Fatalf("cancel in-flight job = %v, %v", ok, err)
	}

	if _, err = s.GetJob(ctx, waiting.JobID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_DetailsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	j := s.CreateJob(domain.JobDetails{
		InstanceID:     "9",
		MexID:          "mex",
		ProcessID:      "{urn:p}Proc",
		Type:           "INVOKE_RESPONSE",
		Channel:        "12",
		CorrelatorID:   "corr",
		CorrelationKey: "k1",
		Ext:            map[string]any{domain.KeyChannel: "13", "new": "field"},
	}, time.UnixMilli(10), true)
	insert(t, s, j, "n1", false)

	got, err := s.GetJob(ctx, j.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Transacted || got.ScheduledTime != 10 || got.NodeID != "n1" {
		t.Fatalf("unexpected job %+v", got)
	}

	eff := got.Details.Effective()
	if eff.Channel != "13" || eff.MexID != "mex" || eff.ProcessID != "{urn:p}Proc" {
		t.Fatalf("unexpected details %+v", eff)
	}
	if eff.Ext["new"] != "field" {
		t.Fatalf("ext lost unknown field: %v", eff.Ext)
	}
}

func TestStore_Transaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	var committed, rolledBack bool
	rollback := newJobAt(1)
	err := s.Transaction(ctx, func(ctx context.Context) error {
		if !s.InTransaction(ctx) {
			t.Fatal("ctx should carry the transaction")
		}
		if err := s.InsertJob(ctx, rollback, "n1", false); err != nil {
			return err
		}
		s.AfterCommit(ctx, func() { rolledBack = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if rolledBack {
		t.Fatal("after-commit hook ran on rollback")
	}
	if _, err = s.GetJob(ctx, rollback.JobID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("rolled back insert is visible: %v", err)
	}

	commit := newJobAt(2)
	nested := newJobAt(3)
	err = s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.InsertJob(ctx, commit, "n1", false); err != nil {
			return err
		}
		_ = s.Transaction(ctx, func(ctx context.Context) error {
			if err := s.InsertJob(ctx, nested, "n1", false); err != nil {
				return err
			}
			s.AfterCommit(ctx, func() { rolledBack = true })
			return boom
		})
		s.AfterCommit(ctx, func() { committed = true })
		if committed {
			t.Fatal("after-commit hook ran before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !committed || rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", committed, rolledBack)
	}
	if _, err = s.GetJob(ctx, commit.JobID); err != nil {
		t.Fatalf("committed insert missing: %v", err)
	}
	if _, err = s.GetJob(ctx, nested.JobID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("savepoint insert should be rolled back: %v", err)
	}

	called := false
	s.AfterCommit(ctx, func() { called = true })
	if !called {
		t.Fatal("AfterCommit without a transaction should run immediately")
	}
}

func assertTimes(t *testing.T, jobs []*domain.Job, want ...int64) {
	t.Helper()
	if len(jobs) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(jobs), len(want))
	}
	for i, j := range jobs {
		if j.ScheduledTime != want[i] {
			t.Fatalf("jobs[%d].ScheduledTime = %d, want %d", i, j.ScheduledTime, want[i])
		}
	}
}

func nodeName(i int) string {
	return "n" + string(rune('0'+i))
}
