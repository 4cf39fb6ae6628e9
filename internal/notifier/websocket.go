package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	fiberws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"
)

// wsConn is the part of a websocket connection the pumps use. It is
// satisfied by both gorilla and fiber websocket connections.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// clientMessage is an inbound websocket message
type clientMessage struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// ServeWebSocket upgrades an HTTP request for userID and serves the
// session until it ends
func (n *Notifier) ServeWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	if !n.CanAccept(userID) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.metrics.TransportRejectedTotal.WithLabelValues("upgrade_failed").Inc()
		n.logger.Debug().Err(err).Str("user_id", userID).Msg("WebSocket upgrade failed")
		return
	}

	n.serveSocket(r.Context(), conn, userID, ProtocolWebSocket)
}

// FiberWebSocketHandler returns a fiber handler serving websocket sessions.
// The authenticated user id is read from the "userId" local.
func (n *Notifier) FiberWebSocketHandler() func(*fiberws.Conn) {
	return func(c *fiberws.Conn) {
		userID, _ := c.Locals("userId").(string)
		if userID == "" {
			_ = c.WriteMessage(fiberws.CloseMessage,
				fiberws.FormatCloseMessage(fiberws.ClosePolicyViolation, "user identity required"))
			_ = c.Close()
			return
		}

		n.serveSocket(context.Background(), c.Conn, userID, ProtocolFiberWebSocket)
	}
}

// serveSocket registers the session, starts the writer and blocks in the
// reader until the client goes away or the session is closed
func (n *Notifier) serveSocket(ctx context.Context, ws wsConn, userID, protocol string) {
	conn := newConnection(userID, protocol, n.config.SendBufferSize, ws.Close)

	go n.writePump(conn, ws)

	if err := n.Accept(ctx, conn); err != nil {
		n.logger.Debug().Err(err).Str("user_id", userID).Msg("Rejected websocket session")
		_ = conn.Close()
		return
	}
	defer n.Disconnect(conn)

	n.readPump(ctx, conn, ws)
}

// readPump consumes client messages and tracks liveness
func (n *Notifier) readPump(ctx context.Context, conn *connection, ws wsConn) {
	ws.SetReadLimit(n.config.MaxMessageSize)
	ws.SetPongHandler(func(string) error {
		conn.touch()
		return nil
	})

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("WebSocket read error")
			return
		}
		conn.touch()

		if messageType == websocket.TextMessage {
			n.processClientMessage(ctx, conn, message)
		}
	}
}

// writePump is the only writer of ws
func (n *Notifier) writePump(conn *connection, ws wsConn) {
	for {
		select {
		case item := <-conn.queue:
			if err := n.writeSocket(ws, item); err != nil {
				n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("WebSocket write error")
				_ = conn.Close()
				return
			}
			if item.kind == kindEvent {
				n.metrics.TransportEventsWritten.WithLabelValues(conn.protocol).Inc()
			}
		case <-conn.done:
			return
		}
	}
}

func (n *Notifier) writeSocket(ws wsConn, item outbound) error {
	deadline := time.Now().Add(n.config.WriteTimeout)

	if item.kind == kindHeartbeat {
		return ws.WriteControl(websocket.PingMessage, nil, deadline)
	}

	frame, err := json.Marshal(Frame{Event: item.event, Data: item.data, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// processClientMessage handles messages from clients
func (n *Notifier) processClientMessage(ctx context.Context, conn *connection, message []byte) {
	var request clientMessage
	if err := json.Unmarshal(message, &request); err != nil {
		n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("Failed to parse client message")
		n.reply(ctx, conn, eventError, map[string]string{"message": "malformed message"})
		return
	}

	switch request.Action {
	case "ping":
		n.reply(ctx, conn, eventPong, map[string]string{})

	case "mark-read":
		if _, err := n.dispatcher.MarkReadAs(ctx, conn.UserID(), request.ID); err != nil {
			n.logger.Debug().
				Err(err).
				Str("user_id", conn.UserID()).
				Str("id", request.ID).
				Msg("Client read acknowledgement failed")
			n.reply(ctx, conn, eventError, map[string]string{"message": err.Error(), "id": request.ID})
		}

	default:
		n.logger.Debug().
			Str("connection_id", conn.ID()).
			Str("action", request.Action).
			Msg("Unknown client action")
	}
}

func (n *Notifier) reply(ctx context.Context, conn *connection, event string, payload any) {
	replyCtx, cancel := context.WithTimeout(ctx, n.config.WriteTimeout)
	defer cancel()

	if err := conn.Push(replyCtx, event, payload); err != nil {
		n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Str("event", event).Msg("Failed to reply to client")
	}
}
