// Package api 调度节点的HTTP入口：提交和取消Job、节点存活上报、死节点通知和指标
package api

import (
	"context"
	scheduler "github.com/TimeWtr/job_scheduler"
	"github.com/TimeWtr/job_scheduler/domain"
	"github.com/TimeWtr/job_scheduler/membership"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

// Scheduler HTTP层用到的调度器能力
type Scheduler interface {
	SchedulePersistent(ctx context.Context, details domain.JobDetails, when time.Time, transacted bool) (string, error)
	ScheduleInMemory(ctx context.Context, details domain.JobDetails, when time.Time, transacted bool) (string, error)
	Cancel(ctx context.Context, jobID string) error
	ExecTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	NodeDead(ctx context.Context, deadNode string) (int64, error)
}

// NodeLister 调度表中出现过的节点
type NodeLister interface {
	GetNodeIDs(ctx context.Context) ([]string, error)
}

type Server struct {
	scheduler Scheduler
	nodes     NodeLister
	members   membership.Membership
	gatherer  prometheus.Gatherer
	logger    scheduler.Logger
	now       func() time.Time
	router    chi.Router
}

func NewServer(s Scheduler, nodes NodeLister, members membership.Membership,
	gatherer prometheus.Gatherer, logger scheduler.Logger) *Server {
	server := &Server{
		scheduler: s,
		nodes:     nodes,
		members:   members,
		gatherer:  gatherer,
		logger:    logger,
		now:       time.Now,
	}

	server.registerRoutes()
	return server
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Delete("/{jobID}", s.handleCancelJob)
	})

	r.Route("/nodes", func(r chi.Router) {
		r.Get("/", s.handleListNodes)
		r.Post("/{nodeID}/heartbeat", s.handleHeartbeat)
		r.Post("/{nodeID}/dead", s.handleNodeDead)
	})

	s.router = r
}
