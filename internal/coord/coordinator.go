// Package coord routes inbound edits through the transform engine, persists
// the result, and fans it out to the document's room. Processing is
// serialized per document by holding the session lock for the whole
// transform-persist-commit step, so broadcast order always matches
// application order. Different documents proceed fully in parallel.
package coord

import (
	"context"
	"fmt"
	"log"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/ot"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/session"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/store"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/wire"
)

// SessionNotFoundError reports an operation submitted for a document with
// no live session, meaning the sender never joined.
type SessionNotFoundError struct {
	DocumentID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("no active session for document %s", e.DocumentID)
}

// ApplyError reports a transient store-write failure. The operation was not
// committed to history; the caller retries with the same operation id.
type ApplyError struct {
	DocumentID string
	Err        error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply to document %s: %v", e.DocumentID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Result acknowledges a submitted operation.
type Result struct {
	AppliedOperation ot.Operation
	NewVersion       int64
}

// Coordinator applies operations to sessions and keeps the document store
// and all participants in agreement.
type Coordinator struct {
	registry *session.Registry
	docs     store.DocumentStore
}

func New(registry *session.Registry, docs store.DocumentStore) *Coordinator {
	return &Coordinator{registry: registry, docs: docs}
}

// Join adds a user to the document's session and returns the state snapshot
// the new participant needs to start editing. Peers are notified through
// the session's outbound channel.
func (c *Coordinator) Join(ctx context.Context, documentID, userID, displayName string) (*session.Session, wire.SessionState, error) {
	sess, p, err := c.registry.Join(ctx, documentID, userID, displayName)
	if err != nil {
		return nil, wire.SessionState{}, err
	}

	sess.Lock()
	state := wire.SessionState{
		DocumentID: documentID,
		Version:    sess.Version(),
		Content:    sess.Content(),
	}
	for _, member := range sess.Participants() {
		state.Participants = append(state.Participants, session.WireParticipant(member))
	}
	sess.Broadcast(wire.ParticipantJoined{
		DocumentID:  documentID,
		Participant: session.WireParticipant(p),
	}, userID)
	sess.Unlock()
	log.Printf("user %s joined document %s (%d participants)", userID, documentID, len(state.Participants))
	return sess, state, nil
}

// Leave drops a user from the session, evicting the session when it was
// the last participant.
func (c *Coordinator) Leave(documentID, userID string) {
	removed, evicted := c.registry.Leave(documentID, userID)
	if !removed {
		return
	}
	if evicted {
		log.Printf("user %s left document %s, session evicted", userID, documentID)
		return
	}
	if sess, ok := c.registry.Get(documentID); ok {
		sess.Lock()
		sess.Broadcast(wire.ParticipantLeft{DocumentID: documentID, UserID: userID}, userID)
		sess.Unlock()
	}
	log.Printf("user %s left document %s", userID, documentID)
}

// UpdateCursor records and rebroadcasts a participant's cursor.
func (c *Coordinator) UpdateCursor(documentID, userID string, cursor wire.Cursor) error {
	if err := c.registry.UpdateCursor(documentID, userID, cursor); err != nil {
		return err
	}
	if sess, ok := c.registry.Get(documentID); ok {
		sess.Lock()
		sess.Broadcast(wire.CursorBroadcast{
			DocumentID: documentID,
			UserID:     userID,
			Cursor:     cursor,
		}, userID)
		sess.Unlock()
	}
	return nil
}

// SubmitOperation transforms op against the concurrent history the sender
// had not observed, persists the result, commits it to the session, and
// broadcasts it to the other participants. Every call returns a result or
// a typed error; operations are never silently dropped.
//
// clientVersion is the last server version the sender observed. Redelivery
// of an already applied operation id acks with the original version and
// leaves the session untouched.
func (c *Coordinator) SubmitOperation(ctx context.Context, documentID string, op ot.Operation, senderID string, clientVersion int64) (Result, error) {
	sess, ok := c.registry.Get(documentID)
	if !ok {
		return Result{}, &SessionNotFoundError{DocumentID: documentID}
	}

	sess.Lock()
	defer sess.Unlock()

	if prev, version, seen := sess.AppliedVersion(op.ID); seen {
		return Result{AppliedOperation: prev, NewVersion: version}, nil
	}

	// Fold through every concurrent operation from another author, oldest
	// first, so the incoming coordinates line up with the current state.
	for _, concurrent := range sess.HistorySince(clientVersion) {
		if concurrent.AuthorID == senderID {
			continue
		}
		op = ot.Transform(op, concurrent)
	}

	newText, err := ot.Apply(sess.Content(), op)
	if err != nil {
		// Stale or corrupt coordinates; structural, not retried.
		return Result{}, err
	}

	// The store write happens inside the session lock: a submit is never
	// abandoned between persisting and committing, and history can not
	// diverge from stored content.
	if err := c.docs.SetText(ctx, documentID, newText); err != nil {
		return Result{}, &ApplyError{DocumentID: documentID, Err: err}
	}

	version := sess.Commit(op, newText)
	sess.Broadcast(wire.OperationBroadcast{
		DocumentID: documentID,
		Operation:  op,
		Version:    version,
	}, senderID)
	return Result{AppliedOperation: op, NewVersion: version}, nil
}
