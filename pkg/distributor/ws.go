package distributor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the http server
		return true
	},
}

// ServeWS upgrades the request and streams channel to it until either side
// goes away.
func (d *Distributor) ServeWS(w http.ResponseWriter, r *http.Request, channel, kind string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := d.hub.Subscribe(channel, kind)
	go d.writePump(conn, sub)
	go d.readPump(conn, sub)
}

// readPump only watches for the peer going away.
func (d *Distributor) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		d.hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(d.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.cfg.PongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				d.log.Debug("websocket read error", zap.String("subscriber", sub.ID), zap.Error(err))
			}
			return
		}
	}
}

func (d *Distributor) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		d.hub.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case msg := <-sub.Messages():
			conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
