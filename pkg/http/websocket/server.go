package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// The event stream is read-only and carries no credentials beyond
// those checked by the surrounding handler, so any origin may connect.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade switches the HTTP server connection to the WebSocket
// protocol and starts the ping heartbeat on it.
func Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (Websocket, error) {
	wsConn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, err
	}
	return Ping(wsConn), nil
}
