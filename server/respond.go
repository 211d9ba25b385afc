package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"KeyShift/logger"
	"KeyShift/model"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// errorStatus maps a pipeline or registry error to an HTTP status and a
// client-safe message. Tool stderr never reaches the client.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrAcquisitionFailed):
		return http.StatusBadGateway, "Failed to download audio."
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "Unknown or expired trackId."
	case errors.Is(err, model.ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable."
	case errors.Is(err, model.ErrSuperseded):
		return http.StatusConflict, "Superseded by a newer request."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}
