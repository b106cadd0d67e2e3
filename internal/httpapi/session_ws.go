package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lukasbauer/syncup/internal/gate"
	"github.com/lukasbauer/syncup/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// wsCommand is a message from the client.
type wsCommand struct {
	Action string `json:"action"` // "next", "end" or "resolve"
	Choice string `json:"choice,omitempty"`
}

// wsMessage is a message to the client.
type wsMessage struct {
	Type       string            `json:"type"` // "progress", "ended", "resolved" or "error"
	Progress   *session.Progress `json:"progress,omitempty"`
	Choices    []gate.Choice     `json:"choices,omitempty"`
	Outcome    *session.Outcome  `json:"outcome,omitempty"`
	Resolution string            `json:"resolution,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(m wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(m)
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	_ = c.conn.Close()
}

// handleSessionWS streams progress of a live session and accepts commands.
// The stream ends with an "ended" message carrying the outcome.
func (r *Router) handleSessionWS(w http.ResponseWriter, req *http.Request) {
	ls, ok := r.loadSession(w, req)
	if !ok {
		return
	}

	raw, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	id := ls.ctrl.ID()
	log := r.logger.With().Str("session_id", id).Logger()
	log.Debug().Msg("progress stream opened")

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for {
			var cmd wsCommand
			if err := raw.ReadJSON(&cmd); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("progress stream read ended")
				}
				return
			}
			if reply, ok := r.applyWSCommand(ls, cmd); ok {
				if err := conn.send(reply); err != nil {
					return
				}
			}
		}
	}()

	updates := ls.ctrl.Watch()
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				final := ls.ctrl.Progress()
				o, _ := ls.ctrl.Outcome()
				_ = conn.send(wsMessage{Type: "ended", Progress: &final, Outcome: &o})
				conn.close(websocket.CloseNormalClosure, "session ended")
				<-quit
				log.Debug().Msg("progress stream closed")
				return
			}
			if err := conn.send(wsMessage{Type: "progress", Progress: &p, Choices: p.Dialog.Choices()}); err != nil {
				conn.close(websocket.CloseGoingAway, "")
				<-quit
				return
			}
		case <-quit:
			_ = raw.Close()
			log.Debug().Msg("progress stream closed by client")
			return
		}
	}
}

// applyWSCommand runs a client command. Progress changes reach the client
// through the watch channel; only resolutions and errors get a direct reply.
func (r *Router) applyWSCommand(ls *liveSession, cmd wsCommand) (wsMessage, bool) {
	switch cmd.Action {
	case "next":
		ls.ctrl.AdvanceSpeaker()
		return wsMessage{}, false
	case "end":
		ls.ctrl.RequestEndMeeting()
		return wsMessage{}, false
	case "resolve":
		choice, err := gate.ParseChoice(cmd.Choice)
		if err != nil {
			return wsMessage{Type: "error", Error: err.Error()}, true
		}
		res := ls.ctrl.ResolveDialog(choice)
		if res == gate.Ignored {
			return wsMessage{Type: "error", Error: "choice is not offered by the current dialog"}, true
		}
		return wsMessage{Type: "resolved", Resolution: res.String()}, true
	default:
		b, _ := json.Marshal(cmd.Action)
		return wsMessage{Type: "error", Error: "unknown action " + string(b)}, true
	}
}
