package source

import (
	"context"

	"github.com/agenthands/dedupstack/internal/core/model"
)

// Record is one raw CRM record as delivered by a source: the remote system's
// identifier plus its multi-valued fields, keyed by field id.
type Record struct {
	RemoteID string              `json:"remote_id"`
	Fields   map[string][]string `json:"fields"`
}

// RecordSource pulls records of one type out of an external system in pages.
// cursor is the last remote id of the previous page ("" for the first);
// implementations return an empty page when the source is exhausted.
type RecordSource interface {
	FetchPage(ctx context.Context, itemType model.ItemType, cursor string, limit int) ([]*Record, error)
}
