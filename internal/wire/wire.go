// Package wire defines the websocket message vocabulary between collab
// clients and the server. Each direction is a closed set of typed messages
// carried in a {type, payload} envelope; decoding is exhaustive so an
// unknown message type is an error rather than a silent drop.
package wire

import (
	"encoding/json"
	"time"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/ot"
)

// Envelope is the outer frame of every websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Cursor is a participant's caret and selection within a script.
type Cursor struct {
	Position       int `json:"position"`
	SelectionStart int `json:"selectionStart"`
	SelectionEnd   int `json:"selectionEnd"`
}

// Participant is the wire shape of a session member.
type Participant struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Color       string  `json:"color"`
	Cursor      *Cursor `json:"cursor,omitempty"`
}

// PendingItem is a whole-entity mutation queued by an offline client.
type PendingItem struct {
	ID         string          `json:"id"`
	Kind       string          `json:"operationKind"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  int64           `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
}

// Client -> server messages.

type Join struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
}

type SubmitOperation struct {
	DocumentID string       `json:"documentId"`
	Operation  ot.Operation `json:"operation"`
	// ClientVersion is the last server version the author observed.
	ClientVersion int64 `json:"clientVersion"`
}

type CursorUpdate struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Cursor     Cursor `json:"cursor"`
}

type Leave struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

type SyncPush struct {
	Item PendingItem `json:"item"`
}

// SyncAck acknowledges a server-pushed item back to the server.
type SyncAck struct {
	ItemID string `json:"itemId"`
}

// Server -> client messages.

// SessionState is sent to a participant right after a successful join.
type SessionState struct {
	DocumentID   string        `json:"documentId"`
	Version      int64         `json:"version"`
	Content      string        `json:"content"`
	Participants []Participant `json:"participants"`
}

type OperationAck struct {
	OperationID string `json:"operationId"`
	Version     int64  `json:"version"`
}

// OperationBroadcast carries an applied operation and the version it
// produced. Clients apply it only when the version immediately follows
// their own.
type OperationBroadcast struct {
	DocumentID string       `json:"documentId"`
	Operation  ot.Operation `json:"operation"`
	Version    int64        `json:"version"`
}

type ParticipantJoined struct {
	DocumentID  string      `json:"documentId"`
	Participant Participant `json:"participant"`
}

type ParticipantLeft struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

type CursorBroadcast struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Cursor     Cursor `json:"cursor"`
}

type SyncItemAck struct {
	ItemID string `json:"itemId"`
}

type SyncItemPush struct {
	Item PendingItem `json:"item"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// ResetAt is set on rate-limit denials.
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

// ClientMessage and ServerMessage mark the two closed unions.
type ClientMessage interface{ clientMessage() }
type ServerMessage interface{ serverMessage() }

func (Join) clientMessage()            {}
func (SubmitOperation) clientMessage() {}
func (CursorUpdate) clientMessage()    {}
func (Leave) clientMessage()           {}
func (SyncPush) clientMessage()        {}
func (SyncAck) clientMessage()         {}

func (SessionState) serverMessage()       {}
func (OperationAck) serverMessage()       {}
func (OperationBroadcast) serverMessage() {}
func (ParticipantJoined) serverMessage()  {}
func (ParticipantLeft) serverMessage()    {}
func (CursorBroadcast) serverMessage()    {}
func (SyncItemAck) serverMessage()        {}
func (SyncItemPush) serverMessage()       {}
func (Error) serverMessage()              {}
