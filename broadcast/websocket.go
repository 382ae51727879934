package broadcast

import (
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"
)

// WSConn bridges a WebSocket connection to a session subscriber.
//
// Messages flow one way, session to client. The read pump exists only
// to detect the client closing the connection.
type WSConn struct {
	session *Session
	sub     *Subscriber
	conn    *websocket.Conn
	done    chan struct{}
}

// ServeWS subscribes the connection to the session and pumps messages
// until the session ends or the client disconnects. It blocks; call it
// from the HTTP handler goroutine after upgrading.
func ServeWS(session *Session, conn *websocket.Conn) {
	ws := &WSConn{
		session: session,
		sub:     session.Subscribe(),
		conn:    conn,
		done:    make(chan struct{}),
	}
	go ws.readPump()
	ws.writePump()
}

// readPump discards client frames and signals when the connection drops.
func (w *WSConn) readPump() {
	defer close(w.done)
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
	}
}

// writePump forwards session messages to the client as JSON text frames.
func (w *WSConn) writePump() {
	defer func() {
		w.session.Unsubscribe(w.sub)
		_ = w.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-w.sub.C:
			if !ok {
				_ = w.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("websocket encode error: %v", err)
				continue
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}
