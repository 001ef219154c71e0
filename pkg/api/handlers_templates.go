package api

import (
	"encoding/json"
	"net/http"

	"github.com/basinlabs/warden/pkg/types"
)

type templateRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	TaskGroups  []types.TaskGroup  `json:"task_groups"`
	Constraints []types.Constraint `json:"constraints,omitempty"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errMissingField("name"))
		return
	}

	tmpl, err := s.nodeManager.CreateTemplate(r.Context(), types.JobTemplate{
		Name:        req.Name,
		Description: req.Description,
		TaskGroups:  req.TaskGroups,
		Constraints: req.Constraints,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tmpl, err := s.nodeManager.UpdateTemplate(r.Context(), id, types.JobTemplate{
		Name:        req.Name,
		Description: req.Description,
		TaskGroups:  req.TaskGroups,
		Constraints: req.Constraints,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tmpl, err := s.nodeManager.GetTemplate(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tmpls, err := s.nodeManager.ListTemplates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpls)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.nodeManager.DeleteTemplate(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
