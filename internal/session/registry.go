package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/store"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/wire"
)

// DocumentNotFoundError reports a join against a document id the store has
// never seen.
type DocumentNotFoundError struct {
	DocumentID string
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document %s not found", e.DocumentID)
}

// Registry owns the session table. Sessions are created on first join and
// evicted as soon as the last participant leaves.
type Registry struct {
	store store.DocumentStore

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(docs store.DocumentStore) *Registry {
	return &Registry{
		store:    docs,
		sessions: make(map[string]*Session),
	}
}

// Get returns the live session for a document, if one exists.
func (r *Registry) Get(documentID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[documentID]
	return s, ok
}

// GetOrCreate returns the live session for a document, loading its content
// from the document store only when the session does not exist yet.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[documentID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// Load outside the registry lock; store reads can be slow.
	content, err := r.store.GetText(ctx, documentID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return nil, &DocumentNotFoundError{DocumentID: documentID}
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[documentID]; ok {
		// Lost the race to another join; use theirs.
		return s, nil
	}
	s := newSession(documentID, content)
	r.sessions[documentID] = s
	return s, nil
}

// Join adds a participant to the document's session, creating the session
// on first join. Unknown documents fail with DocumentNotFoundError.
func (r *Registry) Join(ctx context.Context, documentID, userID, displayName string) (*Session, Participant, error) {
	s, err := r.GetOrCreate(ctx, documentID)
	if err != nil {
		return nil, Participant{}, err
	}
	s.Lock()
	defer s.Unlock()
	p := s.addParticipant(userID, displayName)
	return s, *p, nil
}

// Leave removes a participant. When the last participant leaves the session
// is evicted and its outbound channel closed; the document store remains
// authoritative for content.
func (r *Registry) Leave(documentID, userID string) (removed, evicted bool) {
	r.mu.Lock()
	s, ok := r.sessions[documentID]
	r.mu.Unlock()
	if !ok {
		return false, false
	}

	s.Lock()
	removed = s.removeParticipant(userID)
	if removed && len(s.participants) == 0 {
		s.closed = true
		close(s.outbound)
		evicted = true
	}
	s.Unlock()

	if evicted {
		r.mu.Lock()
		if cur, ok := r.sessions[documentID]; ok && cur == s {
			delete(r.sessions, documentID)
		}
		r.mu.Unlock()
	}
	return removed, evicted
}

// UpdateCursor records a participant's cursor position.
func (r *Registry) UpdateCursor(documentID, userID string, cursor wire.Cursor) error {
	s, ok := r.Get(documentID)
	if !ok {
		return &DocumentNotFoundError{DocumentID: documentID}
	}
	s.Lock()
	defer s.Unlock()
	return s.setCursor(userID, cursor)
}

// SessionCount reports how many documents currently have live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
