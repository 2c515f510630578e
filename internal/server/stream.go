package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"scanlens/internal/journal"
	"scanlens/pkg/models"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// errClientGone marks a stream ended by the client.
var errClientGone = errors.New("websocket client disconnected")

// handleStream sends every record appended to the run's journal after the
// connection opens, one JSON text message per record.
func (s *Server) handleStream(c *gin.Context) {
	runID := c.Param("run_id")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("Failed to upgrade websocket for run %s: %v", runID, err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	// The client never sends anything meaningful; reading surfaces its close.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	s.log.Infof("Websocket connected for run %s", runID)
	err = s.svc.Follow(ctx, runID, true, func(ev models.Event) error {
		if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return errClientGone
		}
		if err := ws.WriteJSON(ev.Raw); err != nil {
			return errClientGone
		}
		return nil
	})

	switch {
	case err == nil || errors.Is(err, errClientGone):
		s.log.Infof("Websocket disconnected for run %s", runID)
		closeStream(ws, websocket.CloseNormalClosure, "")
	case errors.Is(err, journal.ErrNotFound):
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteJSON(gin.H{"error": "run not found"})
		closeStream(ws, websocket.ClosePolicyViolation, "run not found")
	default:
		s.log.Errorf("Unexpected error while streaming events for run %s: %v", runID, err)
		closeStream(ws, websocket.CloseInternalServerErr, "internal error")
	}
}

func closeStream(ws *websocket.Conn, code int, text string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeWait))
}
