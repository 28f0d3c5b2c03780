package syncq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a pending mutation.
type Kind string

const (
	Create Kind = "create"
	Update Kind = "update"
	Delete Kind = "delete"
)

// PendingItem is one durable, not-yet-acknowledged local mutation.
type PendingItem struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"operationKind"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	// CreatedAt is the authoring time in unix nanoseconds; the conflict
	// resolver orders by it.
	CreatedAt  int64 `json:"createdAt"`
	RetryCount int   `json:"retryCount"`
}

func newPendingItem(entityType, entityID string, kind Kind, payload json.RawMessage) PendingItem {
	return PendingItem{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  time.Now().UnixNano(),
	}
}

// SyncTimeoutError reports that the ack window for one item expired. The
// item stays queued and is retried.
type SyncTimeoutError struct {
	ItemID string
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for ack of item %s", e.ItemID)
}

// MaxRetriesExceededError reports an item dropped after exhausting its
// retry budget. It is surfaced through the queue's failure callback, never
// swallowed.
type MaxRetriesExceededError struct {
	Item    PendingItem
	Retries int
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("item %s (%s %s/%s) dropped after %d retries",
		e.Item.ID, e.Item.Kind, e.Item.EntityType, e.Item.EntityID, e.Retries)
}
