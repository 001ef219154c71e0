package api

import (
	"encoding/json"
	"net/http"

	"github.com/basinlabs/warden/pkg/types"
	"github.com/google/uuid"
)

// jobRequest is the body for both POST /jobs and PUT /jobs/{id}. When
// TemplateID is set its task groups and constraints seed the job; any
// fields also present directly on the request override the template's.
type jobRequest struct {
	TaskGroups  []types.TaskGroup  `json:"task_groups"`
	Constraints []types.Constraint `json:"constraints,omitempty"`
	TemplateID  string             `json:"template_id,omitempty"`
}

type submitJobResponse struct {
	JobID        string `json:"job_id"`
	EvaluationID string `json:"evaluation_id"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.buildJobFromRequest(r, types.Job{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	jobID, _, previous, err := s.nodeManager.SubmitJob(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	evalID := s.scheduleEvaluation(jobID, previous)
	writeJSON(w, http.StatusOK, submitJobResponse{JobID: jobID, EvaluationID: evalID})
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.buildJobFromRequest(r, types.Job{ID: id})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	jobID, _, previous, err := s.nodeManager.SubmitJob(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	evalID := s.scheduleEvaluation(jobID, previous)
	writeJSON(w, http.StatusOK, map[string]string{"evaluation_id": evalID})
}

func (s *Server) buildJobFromRequest(r *http.Request, base types.Job) (types.Job, error) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return types.Job{}, err
	}

	job := base
	if req.TemplateID != "" {
		fromTemplate, err := s.nodeManager.JobFromTemplate(r.Context(), req.TemplateID)
		if err != nil {
			return types.Job{}, err
		}
		job.TaskGroups = fromTemplate.TaskGroups
		job.Constraints = fromTemplate.Constraints
	}
	if len(req.TaskGroups) > 0 {
		job.TaskGroups = req.TaskGroups
	}
	if req.Constraints != nil {
		job.Constraints = req.Constraints
	}
	return job, nil
}

// scheduleEvaluation enqueues jobID, carrying forward the job's spec as it
// stood before this request's upsert so the planner can diff against it,
// and returns a fresh id to correlate this request with the evaluation it
// triggered. The scheduler itself tracks evaluations by job id; this id
// exists only for the API response.
func (s *Server) scheduleEvaluation(jobID string, previousJob *types.Job) string {
	s.scheduler.CreateEvaluation(jobID, previousJob)
	return uuid.NewString()
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.executor.StopJob(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.executor.DeleteJob(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.nodeManager.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if job.Status != types.JobDead {
		writeError(w, http.StatusBadRequest, errMissingField("job must be dead to restart"))
		return
	}

	jobID, _, previous, err := s.nodeManager.SubmitJob(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	evalID := s.scheduleEvaluation(jobID, previous)
	writeJSON(w, http.StatusOK, map[string]string{"evaluation_id": evalID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := s.nodeManager.GetJobInfo(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	infos, err := s.nodeManager.GetAllJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}
