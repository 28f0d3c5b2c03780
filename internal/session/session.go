// Package session tracks the live collaboration state of each script: who
// is editing, where their cursors are, and the operation history since the
// session started. Session state is not durable; the document store stays
// authoritative and sessions are rebuilt from it on first join.
package session

import (
	"fmt"
	"sync"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/ot"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/wire"
)

// outboundBuffer bounds how far broadcast delivery may lag behind
// operation application before the pump goroutine blocks producers.
const outboundBuffer = 256

// Participant is a user currently joined to a session.
type Participant struct {
	UserID      string
	DisplayName string
	Color       string
	Cursor      *wire.Cursor
}

// Outbound is one broadcast-ordered message for a session's room.
type Outbound struct {
	Msg wire.ServerMessage
	// ExcludeUserID suppresses delivery to the originating participant,
	// who gets a direct ack instead.
	ExcludeUserID string
}

// Session is the in-memory collaboration context for one document.
// All mutation happens under mu; the coordinator holds the lock across an
// entire submit so transform, persist, append and broadcast-enqueue form
// one serialized step per document.
type Session struct {
	DocumentID string

	mu           sync.Mutex
	content      string
	version      int64
	history      []ot.Operation
	participants map[string]*Participant
	// applied maps operation ids to the version they produced, so
	// redelivered operations ack idempotently.
	applied map[string]appliedOp

	outbound chan Outbound
	closed   bool
}

type appliedOp struct {
	op      ot.Operation
	version int64
}

func newSession(documentID, content string) *Session {
	return &Session{
		DocumentID:   documentID,
		content:      content,
		participants: make(map[string]*Participant),
		applied:      make(map[string]appliedOp),
		outbound:     make(chan Outbound, outboundBuffer),
	}
}

// Lock serializes all access to the session. The coordinator holds it for
// the full transform-persist-append sequence.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Outbound returns the broadcast channel for this session's room. It is
// closed when the session is evicted.
func (s *Session) Outbound() <-chan Outbound { return s.outbound }

// The accessors below assume the caller holds the session lock.

func (s *Session) Content() string { return s.content }
func (s *Session) Version() int64  { return s.version }

// HistorySince returns the applied operations the caller has not observed,
// in application order. version 0 means "since session start".
func (s *Session) HistorySince(version int64) []ot.Operation {
	if version < 0 {
		version = 0
	}
	if version > int64(len(s.history)) {
		return nil
	}
	return s.history[version:]
}

// AppliedVersion reports the version a previously applied operation id
// produced, if any.
func (s *Session) AppliedVersion(opID string) (ot.Operation, int64, bool) {
	rec, ok := s.applied[opID]
	return rec.op, rec.version, ok
}

// Commit records an applied operation: new content, history entry, version
// bump, idempotence record.
func (s *Session) Commit(op ot.Operation, content string) int64 {
	s.content = content
	s.history = append(s.history, op)
	s.version++
	s.applied[op.ID] = appliedOp{op: op, version: s.version}
	return s.version
}

// Broadcast enqueues a message on the session's outbound channel, keeping
// the order messages were committed in. Caller must hold the session lock;
// messages after eviction are dropped.
func (s *Session) Broadcast(msg wire.ServerMessage, excludeUserID string) {
	if s.closed {
		return
	}
	s.outbound <- Outbound{Msg: msg, ExcludeUserID: excludeUserID}
}

// Participants returns a snapshot of the current members.
func (s *Session) Participants() []Participant {
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

func (s *Session) ParticipantCount() int { return len(s.participants) }

func (s *Session) addParticipant(userID, displayName string) *Participant {
	p := &Participant{
		UserID:      userID,
		DisplayName: displayName,
		Color:       ColorFor(userID),
	}
	s.participants[userID] = p
	return p
}

func (s *Session) removeParticipant(userID string) bool {
	if _, ok := s.participants[userID]; !ok {
		return false
	}
	delete(s.participants, userID)
	return true
}

func (s *Session) setCursor(userID string, cursor wire.Cursor) error {
	p, ok := s.participants[userID]
	if !ok {
		return fmt.Errorf("participant %s not in session %s", userID, s.DocumentID)
	}
	c := cursor
	p.Cursor = &c
	return nil
}

// WireParticipant converts a participant to its wire shape.
func WireParticipant(p Participant) wire.Participant {
	return wire.Participant{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Color:       p.Color,
		Cursor:      p.Cursor,
	}
}
