package api

import "net/http"

// handleClearAll resets all stored state. Gated on the X-API-Key header
// matching testAPIKey; if testAPIKey is empty (the WARDEN_TEST_API_KEY
// environment variable was never set) this always 404s, so the endpoint
// cannot be hit by accident in a production deployment.
func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if s.testAPIKey == "" || r.Header.Get("X-API-Key") != s.testAPIKey {
		http.NotFound(w, r)
		return
	}
	if err := s.nodeManager.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
