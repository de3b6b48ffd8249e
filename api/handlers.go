package api

import (
	"context"
	"encoding/json"
	"errors"
	scheduler "github.com/TimeWtr/job_scheduler"
	"github.com/go-chi/chi/v5"
	"net/http"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	details, when := req.details(), req.when(s.now())
	var (
		jobID string
		err   error
	)
	switch {
	case req.InMemory:
		jobID, err = s.scheduler.ScheduleInMemory(r.Context(), details, when, req.Transacted)
	case req.Transacted:
		// HTTP调用方没有自己的事务，为事务型Job单独开启一个
		err = s.scheduler.ExecTransaction(r.Context(), func(ctx context.Context) error {
			var err error
			jobID, err = s.scheduler.SchedulePersistent(ctx, details, when, true)
			return err
		})
	default:
		jobID, err = s.scheduler.SchedulePersistent(r.Context(), details, when, false)
	}
	if err != nil {
		s.logger.Error("failed to schedule job", scheduler.String("type", req.Type), scheduler.Error(err))
		http.Error(w, "failed to schedule job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, CreateJobResponse{JobID: jobID})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	err := s.scheduler.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, scheduler.ErrJobNotFound):
		http.Error(w, "job not found or already running", http.StatusNotFound)
	default:
		s.logger.Error("failed to cancel job", scheduler.String("job", jobID), scheduler.Error(err))
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
	}
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.nodes.GetNodeIDs(r.Context())
	if err != nil {
		s.logger.Error("failed to list nodes", scheduler.Error(err))
		http.Error(w, "failed to list nodes", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, NodesResponse{Nodes: nodes})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	if err := s.members.Heartbeat(r.Context(), nodeID); err != nil {
		s.logger.Error("failed to record heartbeat", scheduler.String("node", nodeID), scheduler.Error(err))
		http.Error(w, "failed to record heartbeat", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeDead(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	n, err := s.scheduler.NodeDead(r.Context(), nodeID)
	if err != nil {
		s.logger.Error("failed to reassign dead node", scheduler.String("node", nodeID), scheduler.Error(err))
		http.Error(w, "failed to reassign jobs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ReassignResponse{Node: nodeID, Reassigned: n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
