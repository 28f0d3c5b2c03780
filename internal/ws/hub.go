package ws

import (
	"context"
	"log"
	"sync"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/session"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/wire"
)

// roomMessage is one encoded frame addressed to a document's room.
type roomMessage struct {
	documentID    string
	data          []byte
	excludeUserID string
}

// Hub owns the room membership table. Register, unregister and broadcast
// all funnel through one run loop, so membership changes never race with
// fan-out.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan roomMessage

	pumpMu sync.Mutex
	pumps  map[*session.Session]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan roomMessage, 64),
		pumps:      make(map[*session.Session]bool),
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	rooms := make(map[string]map[*client]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			room := rooms[c.documentID]
			if room == nil {
				room = make(map[*client]bool)
				rooms[c.documentID] = room
			}
			room[c] = true
		case c := <-h.unregister:
			if room, ok := rooms[c.documentID]; ok {
				if room[c] {
					delete(room, c)
					c.closeSend()
				}
				if len(room) == 0 {
					delete(rooms, c.documentID)
				}
			}
		case msg := <-h.broadcast:
			for c := range rooms[msg.documentID] {
				if c.userID == msg.excludeUserID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer; drop the connection rather than
					// stall the whole room.
					delete(rooms[msg.documentID], c)
					c.closeSend()
				}
			}
		}
	}
}

// StartSessionPump forwards a session's ordered outbound channel into the
// hub, once per live session. The pump ends when the session is evicted
// and its channel closed.
func (h *Hub) StartSessionPump(sess *session.Session) {
	h.pumpMu.Lock()
	if h.pumps[sess] {
		h.pumpMu.Unlock()
		return
	}
	h.pumps[sess] = true
	h.pumpMu.Unlock()

	go func() {
		defer func() {
			h.pumpMu.Lock()
			delete(h.pumps, sess)
			h.pumpMu.Unlock()
		}()
		for out := range sess.Outbound() {
			data, err := wire.EncodeServer(out.Msg)
			if err != nil {
				log.Printf("encode broadcast for %s: %v", sess.DocumentID, err)
				continue
			}
			h.broadcast <- roomMessage{
				documentID:    sess.DocumentID,
				data:          data,
				excludeUserID: out.ExcludeUserID,
			}
		}
	}()
}
