// Package conflict reconciles two pending mutations of the same entity.
// The policy is last-write-wins over whole payloads: suitable for entity
// snapshots like script metadata, never for fine-grained text edits, which
// go through the transform engine instead.
package conflict

import (
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/syncq"
)

// Resolve picks the winner between a local and a remote pending item for
// the same entity. The later authoring timestamp wins outright; there is no
// field-level merge. Equal timestamps fall back to comparing ids so every
// replica settles on the same winner.
func Resolve(local, remote syncq.PendingItem) syncq.PendingItem {
	if local.CreatedAt > remote.CreatedAt {
		return local
	}
	if local.CreatedAt == remote.CreatedAt && local.ID > remote.ID {
		return local
	}
	return remote
}
