package kernel

import "net/http"

// handleGetConfig returns the effective configuration with secrets masked.
// GET /v1/config
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotFound, "configuration is not available")
		return
	}
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}
