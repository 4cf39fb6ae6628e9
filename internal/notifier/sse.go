package notifier

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ServeSSE streams events for userID as server-sent events until the client
// disconnects or the session is superseded
func (n *Notifier) ServeSSE(w http.ResponseWriter, r *http.Request, userID string) {
	if !n.CanAccept(userID) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// Event streams outlive the server's write timeout; each write gets its own
	rc := http.NewResponseController(w)
	n.extendSSEDeadline(rc)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		n.metrics.TransportRejectedTotal.WithLabelValues("streaming_unsupported").Inc()
		n.logger.Warn().Err(err).Msg("Response does not support flushing")
		return
	}

	conn := newConnection(userID, ProtocolSSE, n.config.SendBufferSize, nil)
	if err := n.Accept(r.Context(), conn); err != nil {
		n.logger.Debug().Err(err).Str("user_id", userID).Msg("Rejected SSE session")
		_ = conn.Close()
		return
	}
	defer n.Disconnect(conn)

	buf := bufio.NewWriter(w)
	for {
		select {
		case item := <-conn.queue:
			n.extendSSEDeadline(rc)
			if err := writeSSE(buf, item); err != nil {
				n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("SSE write error")
				return
			}
			if err := buf.Flush(); err != nil {
				n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("SSE write error")
				return
			}
			if err := rc.Flush(); err != nil {
				n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("SSE flush error")
				return
			}
			conn.touch()
			if item.kind == kindEvent {
				n.metrics.TransportEventsWritten.WithLabelValues(ProtocolSSE).Inc()
			}

		case <-conn.done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// extendSSEDeadline bounds the next write by WriteTimeout
func (n *Notifier) extendSSEDeadline(rc *http.ResponseController) {
	err := rc.SetWriteDeadline(time.Now().Add(n.config.WriteTimeout))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		n.logger.Debug().Err(err).Msg("Could not set SSE write deadline")
	}
}

// writeSSE encodes one queued item in the text/event-stream format
func writeSSE(w *bufio.Writer, item outbound) error {
	if item.kind == kindHeartbeat {
		_, err := w.WriteString(": heartbeat\n\n")
		return err
	}

	data := item.data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", item.event, data)
	return err
}
