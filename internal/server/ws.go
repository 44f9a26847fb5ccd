package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The surface binds to loopback only; the browser UI is the sole
	// expected origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTerminalWS relays frames between the browser and the session's
// web-terminal bridge. The surface never terminates the terminal itself,
// and closing this socket never touches the underlying session.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	store, err := s.states.Store(project)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess, err := store.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess.BridgePort == 0 {
		s.writeJSON(w, http.StatusBadGateway, errorEnvelope{
			Error:  http.StatusText(http.StatusBadGateway),
			Detail: "session has no terminal bridge",
		})
		return
	}

	bridgeURL := fmt.Sprintf("ws://127.0.0.1:%d/ws", sess.BridgePort)
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{"tty"},
	}
	upstream, _, err := dialer.Dial(bridgeURL, nil)
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, errorEnvelope{
			Error:  http.StatusText(http.StatusBadGateway),
			Detail: fmt.Sprintf("dialing bridge: %v", err),
		})
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		upstream.Close()
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	s.logger.Debug("terminal relay open",
		zap.String("session", sess.ID),
		zap.Int("bridgePort", sess.BridgePort))
	proxyFrames(client, upstream)
}

// proxyFrames copies frames in both directions until either side closes.
func proxyFrames(a, b *websocket.Conn) {
	done := make(chan struct{}, 2)
	pump := func(dst, src *websocket.Conn) {
		defer func() { done <- struct{}{} }()
		for {
			msgType, data, err := src.ReadMessage()
			if err != nil {
				return
			}
			if err := dst.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}
	go pump(a, b)
	go pump(b, a)
	<-done
	a.Close()
	b.Close()
	<-done
}

// stateUpdate is one push frame on /ws/state.
type stateUpdate struct {
	Op          string      `json:"op"`
	ProjectPath string      `json:"projectPath"`
	SessionID   string      `json:"sessionId"`
	Delta       interface{} `json:"delta,omitempty"`
}

// handleStateWS streams state-change events to the client until it
// disconnects.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	changes, unsubscribe := s.states.Bus().Subscribe()
	defer unsubscribe()

	// Reader goroutine: surfaces client disconnects, discards input.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			update := stateUpdate{
				Op:          string(change.Op),
				ProjectPath: change.ProjectPath,
				SessionID:   change.SessionID,
				Delta:       change.Data,
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		}
	}
}
