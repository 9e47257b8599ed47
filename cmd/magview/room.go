// cmd/magview/room.go
//
// Hub/client fan-out adapted from Mat Ryer's Go Blueprints websocket room.
package main

import (
	"net/http"

	"github.com/gorilla/websocket"

	"magnode-go/x/logx"
)

type room struct {
	// forward holds outgoing frames to be fanned out to every viewer.
	forward chan []byte
	// join is a channel for clients wishing to join the room.
	join chan *client
	// leave is a channel for clients wishing to leave the room.
	leave chan *client
	// clients holds all current clients in this room.
	clients map[*client]bool
}

func newRoom() *room {
	return &room{
		forward: make(chan []byte),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
	}
}

func (r *room) run() {
	for {
		select {
		case c := <-r.join:
			r.clients[c] = true
			logx.Log.Info("viewer joined")
		case c := <-r.leave:
			delete(r.clients, c)
			close(c.send)
			logx.Log.Info("viewer left")
		case msg := <-r.forward:
			for c := range r.clients {
				select {
				case c.send <- msg:
				default: // viewer too slow, drop the frame
				}
			}
		}
	}
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 10
)

// The viewer page is served by this same process, so any origin is fine.
var upgrader = &websocket.Upgrader{
	ReadBufferSize:  socketBufferSize,
	WriteBufferSize: socketBufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (r *room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logx.Log.Errorf("upgrade: %v", err)
		return
	}
	c := &client{socket: socket, send: make(chan []byte, messageBufferSize), room: r}
	r.join <- c
	defer func() { r.leave <- c }()
	go c.write()
	c.read()
}

type client struct {
	socket *websocket.Conn
	send   chan []byte
	room   *room
}

// read discards anything the viewer sends; its return (on close or error)
// tears the client down.
func (c *client) read() {
	defer c.socket.Close()
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
