package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"KeyShift/core/pipeline"
	"KeyShift/logger"
	"KeyShift/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = 4096
)

var prepareUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPrepareRequest is one prepare request on the socket. Token is echoed back
// in every message about that request.
type wsPrepareRequest struct {
	URL   string `json:"url"`
	Token uint64 `json:"token"`
}

type wsMessage struct {
	Type      string           `json:"type"` // stage, prepared, superseded, error
	Token     uint64           `json:"token"`
	Stage     string           `json:"stage,omitempty"`
	Status    string           `json:"status,omitempty"`
	ElapsedMs int64            `json:"elapsedMs,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// HandlePrepareSocket runs prepares requested over a websocket and streams
// their stage progress. The connection is one client context: when a new
// request arrives, every earlier request of the connection is superseded and
// will not be registered.
func (s *Server) HandlePrepareSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := prepareUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	conn.SetReadLimit(wsMaxFrameSize)

	client := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup

	defer conn.Close()
	defer s.tokens.Release(client)
	defer wg.Wait()
	defer cancel()

	logger.Debug("prepare socket opened", logger.String("client", client))

	var writeMu sync.Mutex
	send := func(msg wsMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("prepare socket write failed", logger.String("client", client), logger.ErrorField(err))
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("prepare socket closed unexpectedly", logger.String("client", client), logger.ErrorField(err))
			}
			return
		}

		var req wsPrepareRequest
		if err := json.Unmarshal(data, &req); err != nil {
			send(wsMessage{Type: "error", Error: "Malformed request."})
			continue
		}

		token := s.tokens.Issue(client)
		wg.Add(1)
		go func(req wsPrepareRequest, token uint64) {
			defer wg.Done()

			observe := func(e pipeline.Event) {
				send(wsMessage{
					Type:      "stage",
					Token:     req.Token,
					Stage:     e.Stage.String(),
					Status:    e.Status.String(),
					ElapsedMs: e.Elapsed.Milliseconds(),
				})
			}

			res, err := s.preparer.PrepareFor(ctx, s.tokens, client, token, req.URL, observe)
			switch {
			case err == nil:
				send(wsMessage{Type: "prepared", Token: req.Token, Result: res})
			case errors.Is(err, model.ErrSuperseded):
				send(wsMessage{Type: "superseded", Token: req.Token})
			default:
				_, msg := errorStatus(err)
				send(wsMessage{Type: "error", Token: req.Token, Error: msg})
			}
		}(req, token)
	}
}
