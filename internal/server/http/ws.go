package httpserver

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 4096
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
		},
	}
}

// boardStream upgrades to a websocket that carries the board's committed events
// until either side closes.
func (s *Server) boardStream(w http.ResponseWriter, r *http.Request) {
	boardID, err := pathID(r, "boardId")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	uid := userID(r)
	if err := s.boards.CanRead(r.Context(), uid, boardID); err != nil {
		writeError(w, s.log, err)
		return
	}
	if s.events == nil {
		writeError(w, s.log, errs.Internal(errors.New("event stream not configured")))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()
	sub, err := s.events.Subscribe(ctx, boardID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.log.With(zap.Stringer("board", boardID), zap.Stringer("user", uid))
	log.Debug("stream opened")
	go readPump(conn, cancel)
	writePump(ctx, conn, sub, log)
	log.Debug("stream closed")
}

// readPump drains client frames so pongs are processed; it cancels the stream
// when the peer goes away.
func readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards events to the peer and keeps the connection alive.
func writePump(ctx context.Context, conn *websocket.Conn, sub *events.Subscription, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warn("websocket write failed", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
