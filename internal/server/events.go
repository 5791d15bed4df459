package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// noticeBuffer is how many notices a slow client may lag behind before
// it starts missing them.
const noticeBuffer = 64

// handleEvents streams worker notices to a websocket client until either
// side goes away.
func (a *admin) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("sitecache: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	notices, cancel := a.worker.Subscribe(noticeBuffer)
	defer cancel()

	// Clients never send anything; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("sitecache: websocket read: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := conn.WriteJSON(n); err != nil {
				log.Printf("sitecache: websocket write: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
