package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/store"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/wire"
)

// DocumentSyncHandler applies offline queue items that target whole
// documents. Items are idempotent by payload: reapplying the same item
// writes the same content.
type DocumentSyncHandler struct {
	docs store.DocumentStore
}

func NewDocumentSyncHandler(docs store.DocumentStore) *DocumentSyncHandler {
	return &DocumentSyncHandler{docs: docs}
}

func (h *DocumentSyncHandler) Apply(ctx context.Context, item wire.PendingItem) error {
	if item.EntityType != "document" {
		return fmt.Errorf("unsupported entity type %q", item.EntityType)
	}
	switch item.Kind {
	case "create", "update":
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return fmt.Errorf("decode payload of item %s: %w", item.ID, err)
		}
		return h.docs.SetText(ctx, item.EntityID, payload.Content)
	case "delete":
		// Deletes clear content; removal of the row belongs to the CRUD
		// service that owns the documents table.
		return h.docs.SetText(ctx, item.EntityID, "")
	}
	return fmt.Errorf("unsupported operation kind %q", item.Kind)
}
