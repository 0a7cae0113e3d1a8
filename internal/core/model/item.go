package model

import "time"

type ItemType string

const (
	ItemTypeContact ItemType = "contact"
	ItemTypeCompany ItemType = "company"
)

// FieldValues maps a field id to its values. Single-valued fields carry one
// entry; multi-valued fields (emails, phones) carry one entry per value.
type FieldValues map[string][]string

// Item is one ingested CRM record. Items are never hard-deleted: a merged
// item stays in the store with MergedInto set so past merges stay auditable.
type Item struct {
	UUID              string      `json:"uuid"`
	WorkspaceID       string      `json:"workspace_id"`
	Type              ItemType    `json:"item_type"`
	RemoteID          string      `json:"remote_id"`
	Fields            FieldValues `json:"fields"`
	FillScore         int         `json:"fill_score"`
	SimilarityChecked bool        `json:"similarity_checked"`
	DupChecked        bool        `json:"dup_checked"`
	MergedInto        string      `json:"merged_into_remote_id,omitempty"`
	MergedAt          *time.Time  `json:"merged_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

func (i *Item) Merged() bool {
	return i.MergedInto != ""
}

// Values returns the non-empty values of a field.
func (i *Item) Values(fieldID string) []string {
	var out []string
	for _, v := range i.Fields[fieldID] {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// HasValue reports whether the item carries any data for the field. Missing
// data is neutral evidence during scoring, so callers must distinguish
// "empty" from "different".
func (i *Item) HasValue(fieldID string) bool {
	return len(i.Values(fieldID)) > 0
}
