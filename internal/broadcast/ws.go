package broadcast

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins — adjust for production if needed
		return true
	},
}

// ServeWS upgrades the connection and streams events for the requested
// zone (?zone=, empty for the global stream) until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes its own error response on failure.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broadcast: websocket upgrade: %v", err)
		return
	}

	client := &Client{
		Send: make(chan []byte, subscriberBuffer),
		Zone: r.URL.Query().Get("zone"),
	}
	h.Register(client)

	// Write pump: drain Send onto the connection.
	go func() {
		for data := range client.Send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				break
			}
		}
		conn.Close()
	}()

	// This keeps the connection alive until the client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.Unregister(client)
	conn.Close()
}

// subscriberBuffer is the per-connection send queue depth.
const subscriberBuffer = 64
