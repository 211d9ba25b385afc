package server

import (
	"net/http"
	"time"

	"KeyShift/model"

	"github.com/gorilla/mux"
)

type trackResponse struct {
	model.TrackEntry
	ExpiresAt time.Time `json:"expiresAt"`
	AudioURL  string    `json:"audioUrl"`
}

func (s *Server) describe(e model.TrackEntry) trackResponse {
	return trackResponse{
		TrackEntry: e,
		ExpiresAt:  e.ExpiresAt(s.cfg.CacheTTL),
		AudioURL:   "/audio/" + e.ID.String(),
	}
}

// HandleGetTrack returns the registry entry of a prepared track.
func (s *Server) HandleGetTrack(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.Lookup(model.TrackID(mux.Vars(r)["trackId"]))
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(entry))
}

// HandleListTracks lists every cached track, oldest first.
func (s *Server) HandleListTracks(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Snapshot()
	out := make([]trackResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.describe(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth reports liveness and the cache size.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"tracks": s.registry.Len(),
	})
}

// HandleVersion reports the build version.
func (s *Server) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}
