package api

import (
	"encoding/json"
	"net/http"

	"github.com/basinlabs/warden/pkg/types"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var node types.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if node.ID == "" || node.Endpoint == "" {
		writeError(w, http.StatusBadRequest, errMissingField("node_id/endpoint"))
		return
	}

	if err := s.nodeManager.RegisterNode(r.Context(), node); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb types.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if hb.NodeID == "" {
		writeError(w, http.StatusBadRequest, errMissingField("node_id"))
		return
	}

	if err := s.nodeManager.UpdateHeartbeat(r.Context(), hb); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.nodeManager.GetAllNodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type nodeWithAllocations struct {
		types.Node
		Allocations []types.Allocation `json:"allocations"`
	}

	out := make([]nodeWithAllocations, len(nodes))
	for i, n := range nodes {
		allocs, err := s.nodeManager.GetNodeAllocations(r.Context(), n.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out[i] = nodeWithAllocations{Node: n, Allocations: allocs}
	}
	writeJSON(w, http.StatusOK, out)
}
