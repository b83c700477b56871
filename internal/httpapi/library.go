package httpapi

import (
	"net/http"
)

// handleLibrary lists source files and which translations exist. ?refresh=1
// skips the scan cache.
func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.library == nil {
		writeError(w, http.StatusNotFound, "library is not configured")
		return
	}
	if refresh := r.URL.Query().Get("refresh"); refresh == "1" || refresh == "true" {
		s.library.Invalidate()
	}
	lib, err := s.library.Scan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lib)
}
