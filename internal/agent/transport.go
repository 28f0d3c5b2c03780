// Package agent contains the client daemon pieces: a websocket transport
// that drives the offline sync queue, and LAN discovery of the collab
// server. The transport reconnects with exponential backoff and flips the
// queue between connected and disconnected as the link comes and goes.
package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/syncq"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/wire"
)

// Transport is the agent's websocket link to the collab server. It
// implements syncq.Transport: Send blocks until the server acks the item
// or the context expires.
type Transport struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	waiters map[string]chan struct{}

	// Queue is attached after construction because the queue also needs
	// the transport.
	queue *syncq.Queue
}

func NewTransport(url string) *Transport {
	return &Transport{
		url:     url,
		waiters: make(map[string]chan struct{}),
	}
}

// AttachQueue wires the queue whose state follows this transport's
// connectivity.
func (t *Transport) AttachQueue(q *syncq.Queue) { t.queue = q }

// Run dials the server and keeps the connection alive until ctx is
// cancelled, redialing with exponential backoff after every drop.
func (t *Transport) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
		if err != nil {
			wait := bo.NextBackOff()
			log.Printf("dial %s: %v (retrying in %s)", t.url, err, wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		log.Printf("connected to %s", t.url)

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		if t.queue != nil {
			t.queue.NotifyConnected()
		}

		t.readLoop(ctx, conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		if t.queue != nil {
			t.queue.NotifyDisconnected()
		}
	}
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("connection lost: %v", err)
			return
		}
		msg, err := wire.DecodeServer(data)
		if err != nil {
			log.Printf("bad server message: %v", err)
			continue
		}
		switch m := msg.(type) {
		case wire.SyncItemAck:
			t.deliverAck(m.ItemID)
		case wire.SyncItemPush:
			if t.queue != nil {
				if err := t.queue.OnRemoteItem(ctx, fromWireItem(m.Item)); err != nil {
					log.Printf("remote item %s: %v", m.Item.ID, err)
				}
			}
		case wire.Error:
			log.Printf("server error %s: %s", m.Code, m.Message)
		default:
			// Editing traffic for a joined document; not the queue's
			// concern.
		}
	}
}

// Send pushes one pending item and waits for its ack within ctx's
// deadline.
func (t *Transport) Send(ctx context.Context, item syncq.PendingItem) error {
	ack := make(chan struct{}, 1)
	t.mu.Lock()
	t.waiters[item.ID] = ack
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiters, item.ID)
		t.mu.Unlock()
	}()

	if err := t.write(wire.SyncPush{Item: toWireItem(item)}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AckRemote confirms a server-pushed item back to the server.
func (t *Transport) AckRemote(_ context.Context, itemID string) error {
	return t.write(wire.SyncAck{ItemID: itemID})
}

func (t *Transport) write(msg wire.ClientMessage) error {
	data, err := wire.EncodeClient(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return syncq.ErrDisconnected
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", syncq.ErrDisconnected, err)
	}
	return nil
}

func (t *Transport) deliverAck(itemID string) {
	t.mu.Lock()
	ack, ok := t.waiters[itemID]
	t.mu.Unlock()
	if ok {
		select {
		case ack <- struct{}{}:
		default:
		}
	}
}

func toWireItem(item syncq.PendingItem) wire.PendingItem {
	return wire.PendingItem{
		ID:         item.ID,
		Kind:       string(item.Kind),
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Payload:    item.Payload,
		CreatedAt:  item.CreatedAt,
		RetryCount: item.RetryCount,
	}
}

func fromWireItem(item wire.PendingItem) syncq.PendingItem {
	return syncq.PendingItem{
		ID:         item.ID,
		Kind:       syncq.Kind(item.Kind),
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Payload:    item.Payload,
		CreatedAt:  item.CreatedAt,
		RetryCount: item.RetryCount,
	}
}
