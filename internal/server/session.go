package server

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// readTimeout matches the liveness threshold: a connection silent this long
// is abandoned by the read loop and swept by the registry either way.
const readTimeout = 30 * time.Minute

// ServeConn owns one websocket connection for its lifetime: register, run
// opportunistic maintenance, read and dispatch until the transport dies, then
// unregister. Closing the transport is the only cancellation signal; durable
// writes already enqueued are not affected.
func (p *Protocol) ServeConn(ws *websocket.Conn) {
	conn := newWSConn(ws)
	session := p.registry.Register(conn)

	p.RunMaintenance()

	defer func() {
		_ = conn.Close()
		p.HandleDisconnect(session)
	}()

	for {
		if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				p.logger.Debug("websocket read failed",
					zap.String("session_id", session.ID()),
					zap.Error(err))
			}
			return
		}
		p.HandleMessage(session, data)
	}
}
