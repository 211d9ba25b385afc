package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"

	"KeyShift/core/audio"
	"KeyShift/logger"
	"KeyShift/metrics"
	"KeyShift/model"

	"github.com/gorilla/mux"
)

// HandleAudio streams a cached track. It accepts /audio/{trackId} and
// /audio?trackId=, honours single byte ranges and, when the client passes
// ?start=SECONDS without a Range header, re-encodes from that offset.
func (s *Server) HandleAudio(w http.ResponseWriter, r *http.Request) {
	id := model.TrackID(mux.Vars(r)["trackId"])
	if id == "" {
		id = model.TrackID(r.URL.Query().Get("trackId"))
	}

	entry, err := s.registry.Lookup(id)
	if err != nil {
		s.fail(w, http.StatusNotFound, "Unknown or expired trackId.")
		return
	}

	if start := r.URL.Query().Get("start"); start != "" && s.seeker != nil && r.Header.Get("Range") == "" {
		offset, err := strconv.ParseFloat(start, 64)
		if err == nil && offset > 0 {
			s.streamFrom(w, r, entry, offset)
			return
		}
	}

	s.serveFile(w, r, entry)
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	metrics.StreamRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	writeError(w, status, msg)
}

// serveFile answers with the whole file or the one requested byte range.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, entry model.TrackEntry) {
	f, err := os.Open(entry.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("cached file vanished", logger.String("trackId", entry.ID.String()))
			s.fail(w, http.StatusNotFound, "Unknown or expired trackId.")
			return
		}
		logger.Error("failed to open cached file", logger.String("trackId", entry.ID.String()), logger.ErrorField(err))
		s.fail(w, http.StatusInternalServerError, "Failed to read audio.")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.Error("failed to stat cached file", logger.String("trackId", entry.ID.String()), logger.ErrorField(err))
		s.fail(w, http.StatusInternalServerError, "Failed to read audio.")
		return
	}
	size := info.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		h.Set("Content-Type", audio.TrackContentType)
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		metrics.StreamRequestsTotal.WithLabelValues("200").Inc()
		if r.Method != http.MethodHead {
			copyBody(w, f, entry.ID)
		}
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		logger.Debug("unsatisfiable range",
			logger.String("trackId", entry.ID.String()),
			logger.String("range", rangeHeader),
			logger.Int64("size", size))
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		s.fail(w, http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable.")
		return
	}

	length := end - start + 1
	h.Set("Content-Type", audio.TrackContentType)
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	metrics.StreamRequestsTotal.WithLabelValues("206").Inc()
	if r.Method != http.MethodHead {
		copyBody(w, io.NewSectionReader(f, start, length), entry.ID)
	}
}

// parseRange parses a single "bytes=start-end" range against a file of size
// bytes. The end is optional and clamped to the last byte. Suffix ranges,
// multiple ranges and other units are rejected.
func parseRange(header string, size int64) (start, end int64, err error) {
	const prefix = "bytes="
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, fmt.Errorf("%w: unsupported unit in %q", model.ErrRangeNotSatisfiable, header)
	}
	ranges := strings.TrimSpace(header[len(prefix):])
	if strings.Contains(ranges, ",") {
		return 0, 0, fmt.Errorf("%w: multiple ranges", model.ErrRangeNotSatisfiable)
	}

	startStr, endStr, ok := strings.Cut(ranges, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: malformed range %q", model.ErrRangeNotSatisfiable, ranges)
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	start, err = parseOffset(startStr)
	if err != nil {
		return 0, 0, err
	}
	if endStr == "" {
		end = size - 1
	} else if end, err = parseOffset(endStr); err != nil {
		return 0, 0, err
	}

	if start > end {
		return 0, 0, fmt.Errorf("%w: start %d after end %d", model.ErrRangeNotSatisfiable, start, end)
	}
	if start >= size {
		return 0, 0, fmt.Errorf("%w: start %d beyond size %d", model.ErrRangeNotSatisfiable, start, size)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, fmt.Errorf("%w: bad offset %q", model.ErrRangeNotSatisfiable, s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad offset %q", model.ErrRangeNotSatisfiable, s)
	}
	return n, nil
}

// copyBody writes src to the client after headers are sent. A client that
// hangs up ends the response quietly; any other failure aborts the connection.
func copyBody(w http.ResponseWriter, src io.Reader, id model.TrackID) {
	if _, err := io.Copy(w, src); err != nil {
		if clientGone(err) {
			logger.Debug("client disconnected during stream",
				logger.String("trackId", id.String()),
				logger.ErrorField(err))
			return
		}
		logger.Warn("stream write failed",
			logger.String("trackId", id.String()),
			logger.ErrorField(err))
		panic(http.ErrAbortHandler)
	}
}

func clientGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// headerOnFirstWrite delays the 200 until the encoder produces its first
// bytes, so an encoder that fails immediately can still be reported as JSON.
type headerOnFirstWrite struct {
	w        http.ResponseWriter
	started  bool
	writeErr error
}

func (h *headerOnFirstWrite) Write(p []byte) (int, error) {
	if !h.started {
		h.started = true
		h.w.Header().Set("Content-Type", audio.TrackContentType)
		h.w.WriteHeader(http.StatusOK)
	}
	n, err := h.w.Write(p)
	if err != nil {
		h.writeErr = err
		return n, err
	}
	if f, ok := h.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, nil
}

// streamFrom serves entry re-encoded from offset seconds.
func (s *Server) streamFrom(w http.ResponseWriter, r *http.Request, entry model.TrackEntry, offset float64) {
	out := &headerOnFirstWrite{w: w}
	err := s.seeker.StreamFrom(r.Context(), entry.FilePath, offset, out)
	if err == nil {
		if !out.started {
			w.Header().Set("Content-Type", audio.TrackContentType)
			w.WriteHeader(http.StatusOK)
		}
		metrics.StreamRequestsTotal.WithLabelValues("200").Inc()
		return
	}

	fields := []logger.Field{
		logger.String("trackId", entry.ID.String()),
		logger.Float64("start", offset),
		logger.ErrorField(err),
	}
	switch {
	case !out.started:
		logger.Error("seek stream failed", fields...)
		s.fail(w, http.StatusInternalServerError, "Failed to process audio.")
	case r.Context().Err() != nil || (out.writeErr != nil && clientGone(out.writeErr)):
		logger.Debug("client disconnected during seek stream", fields...)
		metrics.StreamRequestsTotal.WithLabelValues("200").Inc()
	default:
		logger.Warn("seek stream aborted", fields...)
		metrics.StreamRequestsTotal.WithLabelValues("200").Inc()
		panic(http.ErrAbortHandler)
	}
}
