package server

import (
	"net/http"

	"KeyShift/logger"
)

// HandlePrepare downloads, analyzes and registers ?url= and answers with
// {trackId, duration, key}.
func (s *Server) HandlePrepare(w http.ResponseWriter, r *http.Request) {
	sourceURL := r.URL.Query().Get("url")

	res, err := s.preparer.Prepare(r.Context(), sourceURL)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("prepare failed",
				logger.String("url", sourceURL),
				logger.Int("status", status),
				logger.ErrorField(err))
		} else {
			logger.Info("prepare rejected",
				logger.String("url", sourceURL),
				logger.ErrorField(err))
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
