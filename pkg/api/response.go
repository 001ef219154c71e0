package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/basinlabs/warden/pkg/nodemanager"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a NodeManager sentinel error to its edge status code and
// writes a JSON error body. Unrecognized errors are treated as internal.
func writeError(w http.ResponseWriter, fallback int, err error) {
	status := fallback
	if errors.Is(err, nodemanager.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errMissingField(field string) error {
	return fmt.Errorf("missing required field: %s", field)
}
