// Package ws is the websocket edge of the collab server: it upgrades
// connections, decodes the typed wire protocol, consults the rate limiter
// gate, and hands valid traffic to the coordinator.
package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/coord"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/limit"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/ot"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/session"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SyncHandler applies offline-queue items pushed by agents. The ack is
// sent only after Apply succeeds, so at-least-once delivery holds.
type SyncHandler interface {
	Apply(ctx context.Context, item wire.PendingItem) error
}

// Server routes websocket traffic between clients, the rate limiter gate
// and the coordinator.
type Server struct {
	hub   *Hub
	coord *coord.Coordinator
	gate  limit.Gate
	sync  SyncHandler
}

func NewServer(hub *Hub, c *coord.Coordinator, gate limit.Gate, sync SyncHandler) *Server {
	return &Server{hub: hub, coord: c, gate: gate, sync: sync}
}

// RegisterRoutes installs the websocket endpoint and health check.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade: %v", err)
		return
	}
	c := newClient(conn)
	go c.writePump()
	s.readPump(r.Context(), c, r.RemoteAddr)
}

func (s *Server) readPump(ctx context.Context, c *client, remoteAddr string) {
	defer func() {
		if c.joined {
			s.coord.Leave(c.documentID, c.userID)
			s.hub.unregister <- c
		} else {
			c.conn.Close()
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("client %s disconnected: %v", c.userID, err)
			return
		}

		msg, err := wire.DecodeClient(data)
		if err != nil {
			log.Printf("bad message from %s: %v", remoteAddr, err)
			s.sendError(c, "bad_message", err.Error(), nil)
			continue
		}

		identity := c.userID
		if identity == "" {
			identity = remoteAddr
		}
		decision, err := s.gate.Allow(ctx, identity, messageTag(msg))
		if err != nil {
			// Gate outage: fail open but say so. Denials still enforce.
			log.Printf("rate limiter gate: %v", err)
		} else if !decision.Allowed {
			s.sendError(c, "rate_limited", "too many requests", &decision.ResetAt)
			continue
		}

		s.dispatch(ctx, c, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, msg wire.ClientMessage) {
	switch m := msg.(type) {
	case wire.Join:
		s.handleJoin(ctx, c, m)
	case wire.SubmitOperation:
		s.handleOperation(ctx, c, m)
	case wire.CursorUpdate:
		// Presence moves under the connection's own identity; the frame's
		// user and document fields are not trusted.
		if !c.joined {
			s.sendError(c, "cursor_rejected", "join a document first", nil)
			return
		}
		if err := s.coord.UpdateCursor(c.documentID, c.userID, m.Cursor); err != nil {
			s.sendError(c, "cursor_rejected", err.Error(), nil)
		}
	case wire.Leave:
		if c.joined {
			s.coord.Leave(c.documentID, c.userID)
			c.joined = false
			// Unregister closes the send channel, which ends the write
			// pump and the connection with it.
			s.hub.unregister <- c
		}
	case wire.SyncPush:
		s.handleSyncPush(ctx, c, m)
	case wire.SyncAck:
		// Agents ack server-pushed items; nothing queued server-side yet.
		log.Printf("sync ack for item %s from %s", m.ItemID, c.userID)
	}
}

func (s *Server) handleJoin(ctx context.Context, c *client, m wire.Join) {
	// One document per connection; the hub keys room membership by the
	// client's current document, so rebinding would leak the old slot.
	if c.joined {
		s.sendError(c, "already_joined", "connection is already joined to "+c.documentID, nil)
		return
	}
	sess, state, err := s.coord.Join(ctx, m.DocumentID, m.UserID, m.UserName)
	if err != nil {
		var notFound *session.DocumentNotFoundError
		if errors.As(err, &notFound) {
			s.sendError(c, "document_not_found", err.Error(), nil)
			return
		}
		s.sendError(c, "join_failed", err.Error(), nil)
		return
	}

	c.userID = m.UserID
	c.documentID = m.DocumentID
	c.joined = true
	s.hub.register <- c
	s.hub.StartSessionPump(sess)
	s.reply(c, state)
}

func (s *Server) handleOperation(ctx context.Context, c *client, m wire.SubmitOperation) {
	res, err := s.coord.SubmitOperation(ctx, m.DocumentID, m.Operation, c.userID, m.ClientVersion)
	if err != nil {
		var (
			noSession  *coord.SessionNotFoundError
			outOfRange *ot.OutOfRangeError
			applyErr   *coord.ApplyError
		)
		switch {
		case errors.As(err, &noSession):
			s.sendError(c, "session_not_found", err.Error(), nil)
		case errors.As(err, &outOfRange):
			s.sendError(c, "out_of_range", err.Error(), nil)
		case errors.As(err, &applyErr):
			// Transient; the client retries with the same operation id.
			s.sendError(c, "apply_failed", err.Error(), nil)
		default:
			s.sendError(c, "operation_rejected", err.Error(), nil)
		}
		return
	}
	s.reply(c, wire.OperationAck{
		OperationID: res.AppliedOperation.ID,
		Version:     res.NewVersion,
	})
}

func (s *Server) handleSyncPush(ctx context.Context, c *client, m wire.SyncPush) {
	if s.sync == nil {
		s.sendError(c, "sync_unsupported", "no sync handler configured", nil)
		return
	}
	if err := s.sync.Apply(ctx, m.Item); err != nil {
		log.Printf("sync item %s from %s: %v", m.Item.ID, c.userID, err)
		s.sendError(c, "sync_failed", err.Error(), nil)
		return
	}
	s.reply(c, wire.SyncItemAck{ItemID: m.Item.ID})
}

func (s *Server) reply(c *client, msg wire.ServerMessage) {
	data, err := wire.EncodeServer(msg)
	if err != nil {
		log.Printf("encode reply: %v", err)
		return
	}
	c.trySend(data)
}

func (s *Server) sendError(c *client, code, message string, resetAt *time.Time) {
	s.reply(c, wire.Error{Code: code, Message: message, ResetAt: resetAt})
}

func messageTag(msg wire.ClientMessage) string {
	switch msg.(type) {
	case wire.Join:
		return wire.TypeJoin
	case wire.SubmitOperation:
		return wire.TypeOperation
	case wire.CursorUpdate:
		return wire.TypeCursorUpdate
	case wire.Leave:
		return wire.TypeLeave
	case wire.SyncPush:
		return wire.TypeSyncPush
	case wire.SyncAck:
		return wire.TypeSyncAck
	}
	return "unknown"
}
