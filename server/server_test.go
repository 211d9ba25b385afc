package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"KeyShift/config"
	"KeyShift/core/audio"
	"KeyShift/core/pipeline"
	"KeyShift/core/registry"
	"KeyShift/model"

	"github.com/gorilla/websocket"
)

const testSource = "https://www.youtube.com/watch?v=abc"

type fakeProcessor struct {
	payload []byte
	dlErr   error
	dlGate  chan struct{}
}

func (f *fakeProcessor) LookupMetadata(context.Context, string) (*audio.SourceMetadata, error) {
	return &audio.SourceMetadata{ID: "abc", Title: "Song", Duration: 180}, nil
}

func (f *fakeProcessor) Download(_ context.Context, _, dest string) error {
	if f.dlGate != nil {
		<-f.dlGate
	}
	if f.dlErr != nil {
		return f.dlErr
	}
	return os.WriteFile(dest, f.payload, 0644)
}

func (f *fakeProcessor) ProbeDuration(context.Context, string) (float64, error) {
	return 181.25, nil
}

func (f *fakeProcessor) DecodePCM(context.Context, string, int, int) ([]float64, error) {
	return nil, errors.New("no decoder in tests")
}

type fakeSeeker struct {
	err     error
	written string
}

func (f *fakeSeeker) StreamFrom(_ context.Context, path string, offset float64, w io.Writer) error {
	if f.written != "" {
		fmt.Fprintf(w, "%s@%.1f", f.written, offset)
	}
	return f.err
}

type testEnv struct {
	srv *Server
	reg *registry.Registry
	dir string
}

func newTestEnv(t *testing.T, proc audio.Processor, seeker Seeker) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Port:         "0",
		Version:      "1.2.3-test",
		CacheDir:     dir,
		CacheTTL:     time.Hour,
		AllowedHosts: config.DefaultAllowedHosts,
	}
	reg := registry.New(nil)
	preparer := pipeline.New(proc, reg, pipeline.Options{CacheDir: dir, AllowedHosts: cfg.AllowedHosts})
	return &testEnv{srv: New(cfg, reg, preparer, seeker), reg: reg, dir: dir}
}

// addTrack registers a cached file with size bytes of deterministic content.
func (e *testEnv) addTrack(t *testing.T, size int) (model.TrackID, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	id := e.reg.NewID()
	path := filepath.Join(e.dir, id.String()+audio.TrackExt)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	e.reg.Register(model.TrackEntry{ID: id, FilePath: path, Size: int64(size), SourceURL: testSource, Duration: 12})
	return id, data
}

func (e *testEnv) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %q", rec.Body.String())
	}
	return body.Error
}

func TestStreamFullFile(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	id, data := env.addTrack(t, 1000)

	rec := env.do(http.MethodGet, "/audio/"+id.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Errorf("Content-Length = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Error("body differs from file")
	}
}

func TestStreamByQueryParameter(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	id, _ := env.addTrack(t, 64)

	rec := env.do(http.MethodGet, "/audio?trackId="+id.String(), nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != 64 {
		t.Fatalf("status = %d, body = %d bytes", rec.Code, rec.Body.Len())
	}
}

func TestStreamRanges(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	id, data := env.addTrack(t, 1000)

	tests := []struct {
		rangeHeader string
		wantStatus  int
		wantRange   string
		wantStart   int
		wantLen     int
	}{
		{"bytes=0-99", http.StatusPartialContent, "bytes 0-99/1000", 0, 100},
		{"bytes=900-", http.StatusPartialContent, "bytes 900-999/1000", 900, 100},
		{"bytes=999-999", http.StatusPartialContent, "bytes 999-999/1000", 999, 1},
		{"bytes=990-5000", http.StatusPartialContent, "bytes 990-999/1000", 990, 10},
		{"bytes=500-200", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
		{"bytes=1000-", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
		{"bytes=abc-10", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
		{"bytes=0-x", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
		{"bytes=-100", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
		{"bytes=0-1,5-6", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
		{"items=0-10", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
		{"bytes=10", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.rangeHeader, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/audio/"+id.String(), http.Header{"Range": {tt.rangeHeader}})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.wantRange)
			}
			if tt.wantStatus != http.StatusPartialContent {
				if decodeError(t, rec) == "" {
					t.Error("empty error message")
				}
				return
			}
			if got := rec.Header().Get("Content-Length"); got != fmt.Sprint(tt.wantLen) {
				t.Errorf("Content-Length = %q, want %d", got, tt.wantLen)
			}
			if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
				t.Errorf("Accept-Ranges = %q", got)
			}
			if !bytes.Equal(rec.Body.Bytes(), data[tt.wantStart:tt.wantStart+tt.wantLen]) {
				t.Errorf("body = %d bytes, not the requested span", rec.Body.Len())
			}
		})
	}
}

func TestStreamUnknownTrack(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)

	for _, h := range []http.Header{nil, {"Range": {"bytes=0-99"}}, {"Range": {"bytes=500-200"}}} {
		for _, target := range []string{"/audio/0123456789abcdef0123456789abcdef", "/audio?trackId=nope", "/audio"} {
			rec := env.do(http.MethodGet, target, h)
			if rec.Code != http.StatusNotFound {
				t.Errorf("%s %v: status = %d, want 404", target, h, rec.Code)
				continue
			}
			if msg := decodeError(t, rec); msg != "Unknown or expired trackId." {
				t.Errorf("error = %q", msg)
			}
		}
	}
}

func TestStreamMissingFile(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	id, _ := env.addTrack(t, 10)
	entry, _ := env.reg.Lookup(id)
	os.Remove(entry.FilePath)

	if rec := env.do(http.MethodGet, "/audio/"+id.String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStreamHead(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	id, _ := env.addTrack(t, 300)

	rec := env.do(http.MethodHead, "/audio/"+id.String(), nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Length") != "300" {
		t.Errorf("HEAD status = %d, length = %q", rec.Code, rec.Header().Get("Content-Length"))
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD wrote %d body bytes", rec.Body.Len())
	}
}

func TestStreamFromOffset(t *testing.T) {
	seeker := &fakeSeeker{written: "mp3"}
	env := newTestEnv(t, &fakeProcessor{}, seeker)
	id, _ := env.addTrack(t, 100)

	rec := env.do(http.MethodGet, "/audio/"+id.String()+"?start=42.5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "mp3@42.5" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "audio/mpeg" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}

	// A Range header wins over ?start and zero means the plain file.
	rec = env.do(http.MethodGet, "/audio/"+id.String()+"?start=42.5", http.Header{"Range": {"bytes=0-9"}})
	if rec.Code != http.StatusPartialContent {
		t.Errorf("range with start: status = %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/audio/"+id.String()+"?start=0", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != 100 {
		t.Errorf("start=0: status = %d, body = %d", rec.Code, rec.Body.Len())
	}
}

func TestStreamFromOffsetFailure(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, &fakeSeeker{err: &audio.ProcessError{Name: "ffmpeg", ExitCode: 1}})
	id, _ := env.addTrack(t, 100)

	rec := env.do(http.MethodGet, "/audio/"+id.String()+"?start=5", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Failed to process audio." {
		t.Errorf("error = %q", msg)
	}
}

func TestParseRange(t *testing.T) {
	start, end, err := parseRange(" bytes= 10 - 19 ", 100)
	if err != nil || start != 10 || end != 19 {
		t.Errorf("parseRange = %d, %d, %v", start, end, err)
	}
	if _, _, err := parseRange("bytes=+5-10", 100); !errors.Is(err, model.ErrRangeNotSatisfiable) {
		t.Errorf("signed offset accepted: %v", err)
	}
	if _, _, err := parseRange("bytes=0-", 0); err == nil {
		t.Error("range on empty file accepted")
	}
}

func TestPrepareEndpoint(t *testing.T) {
	payload := []byte("ID3 prepared payload")
	env := newTestEnv(t, &fakeProcessor{payload: payload}, nil)

	rec := env.do(http.MethodGet, "/prepare?url="+testSource, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res struct {
		TrackID  string          `json:"trackId"`
		Duration float64         `json:"duration"`
		Key      json.RawMessage `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !model.TrackID(res.TrackID).Valid() {
		t.Errorf("trackId = %q", res.TrackID)
	}
	if res.Duration != 181.25 {
		t.Errorf("duration = %v", res.Duration)
	}
	if string(res.Key) != "null" {
		t.Errorf("key = %s, want null when decode fails", res.Key)
	}

	rec = env.do(http.MethodGet, "/audio/"+res.TrackID, nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Errorf("streaming prepared track: status %d, body %q", rec.Code, rec.Body.String())
	}
}

func TestPrepareErrors(t *testing.T) {
	tests := []struct {
		name       string
		proc       *fakeProcessor
		target     string
		wantStatus int
	}{
		{"missing url", &fakeProcessor{}, "/prepare", http.StatusBadRequest},
		{"unsupported host", &fakeProcessor{}, "/prepare?url=https://example.com/a.mp3", http.StatusBadRequest},
		{"bad scheme", &fakeProcessor{}, "/prepare?url=file:///etc/passwd", http.StatusBadRequest},
		{
			"download fails",
			&fakeProcessor{dlErr: &audio.ProcessError{Name: "yt-dlp", ExitCode: 1, Stderr: "secret stderr"}},
			"/prepare?url=" + testSource,
			http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.proc, nil)
			rec := env.do(http.MethodGet, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			msg := decodeError(t, rec)
			if strings.Contains(msg, "secret stderr") {
				t.Errorf("tool stderr leaked to client: %q", msg)
			}
			if env.reg.Len() != 0 {
				t.Errorf("failed prepare registered a track")
			}
		})
	}
}

func TestGetTrack(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	id, _ := env.addTrack(t, 10)

	rec := env.do(http.MethodGet, "/api/tracks/"+id.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["trackId"] != id.String() || body["audioUrl"] != "/audio/"+id.String() {
		t.Errorf("body = %v", body)
	}
	if _, leaked := body["FilePath"]; leaked {
		t.Error("file path exposed")
	}
	if _, ok := body["expiresAt"]; !ok {
		t.Error("expiresAt missing")
	}

	if rec := env.do(http.MethodGet, "/api/tracks/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown track status = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/tracks", nil)
	var list []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Errorf("list = %v", list)
	}
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	env.addTrack(t, 1)

	rec := env.do(http.MethodGet, "/health", nil)
	var health map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &health)
	if rec.Code != http.StatusOK || health["status"] != "ok" || health["tracks"] != float64(1) {
		t.Errorf("health = %d %v", rec.Code, health)
	}

	rec = env.do(http.MethodGet, "/version", nil)
	if !strings.Contains(rec.Body.String(), "1.2.3-test") {
		t.Errorf("version = %s", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "keyshift_") {
		t.Errorf("metrics endpoint: %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)

	rec := env.do(http.MethodOptions, "/audio/whatever", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), "Content-Range") {
		t.Errorf("Content-Range not exposed: %q", rec.Header().Get("Access-Control-Expose-Headers"))
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin")
	}
}

func dialPrepareSocket(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/prepare", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestPrepareSocket(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{payload: []byte("audio")}, nil)
	conn := dialPrepareSocket(t, env)

	if err := conn.WriteJSON(wsPrepareRequest{URL: testSource, Token: 7}); err != nil {
		t.Fatal(err)
	}

	stages := map[string]bool{}
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Token != 7 {
			t.Errorf("message for token %d", msg.Token)
		}
		if msg.Type == "stage" {
			stages[msg.Stage] = true
			continue
		}
		if msg.Type != "prepared" || msg.Result == nil {
			t.Fatalf("final message = %+v", msg)
		}
		if _, err := env.reg.Lookup(msg.Result.TrackID); err != nil {
			t.Errorf("prepared track not registered")
		}
		break
	}
	for _, s := range []string{"metadata", "download", "probe", "decode", "analyze", "register"} {
		if !stages[s] {
			t.Errorf("no progress for stage %s", s)
		}
	}
}

func TestPrepareSocketLastWriteWins(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &fakeProcessor{payload: []byte("audio"), dlGate: gate}, nil)
	conn := dialPrepareSocket(t, env)

	conn.WriteJSON(wsPrepareRequest{URL: testSource, Token: 1})
	conn.WriteJSON(wsPrepareRequest{URL: testSource, Token: 2})

	finals := map[uint64]wsMessage{}
	opened := false
	for len(finals) < 2 {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		// Token 2 is issued before its first event, so once it reports a
		// download start both requests are in flight and token 1 is stale.
		if !opened && msg.Token == 2 && msg.Stage == "download" && msg.Status == "started" {
			opened = true
			close(gate)
		}
		if msg.Type != "stage" {
			finals[msg.Token] = msg
		}
	}

	if finals[1].Type != "superseded" {
		t.Errorf("first request = %+v, want superseded", finals[1])
	}
	if finals[2].Type != "prepared" {
		t.Errorf("second request = %+v, want prepared", finals[2])
	}
	if env.reg.Len() != 1 {
		t.Errorf("registry len = %d, want only the newest track", env.reg.Len())
	}
}

func TestPrepareSocketMalformedRequest(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, nil)
	conn := dialPrepareSocket(t, env)

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "error" {
		t.Errorf("msg = %+v", msg)
	}

	conn.WriteJSON(wsPrepareRequest{URL: "https://example.com/x", Token: 3})
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != "stage" {
			break
		}
	}
	if msg.Type != "error" || msg.Token != 3 || !strings.Contains(msg.Error, "invalid input") {
		t.Errorf("msg = %+v", msg)
	}
}
