package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"ledgerflow/internal/eventbus"
)

// alertHub fans committed alert events out to websocket clients subscribed
// on /api/alerts/stream. Slow clients are dropped rather than blocking the
// broadcast loop.
type alertHub struct {
	clients    map[*alertClient]bool
	broadcast  chan []byte
	register   chan *alertClient
	unregister chan *alertClient
	mutex      sync.Mutex
}

type alertClient struct {
	hub  *alertHub
	conn *websocket.Conn
	send chan []byte
}

func newAlertHub() *alertHub {
	return &alertHub{
		clients:    make(map[*alertClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *alertClient),
		unregister: make(chan *alertClient),
	}
}

// attach subscribes the hub to every event published on the bus and feeds
// the serialized documents into the broadcast loop.
func (h *alertHub) attach(bus *eventbus.Bus) {
	ch := make(chan eventbus.Event, 64)
	bus.SubscribeAll(ch)
	go func() {
		for evt := range ch {
			msg := map[string]any{
				"type":    "alert_event",
				"payload": evt.Doc,
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- data:
			default:
			}
		}
	}()
}

func (h *alertHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[api] websocket upgrade error:", err)
		return
	}

	client := &alertClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.hub.register <- client

	go func() {
		defer func() {
			s.hub.unregister <- client
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			wr, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			wr.Write(message)
			wr.Close()
		}
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
