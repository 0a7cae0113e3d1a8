package model

import (
	"fmt"
	"time"
)

// MemberRole tags how strongly a dup-stack member is believed to duplicate
// the stack's reference item.
type MemberRole string

const (
	RoleReference     MemberRole = "REFERENCE"
	RoleConfident     MemberRole = "CONFIDENT"
	RolePotential     MemberRole = "POTENTIAL"
	RoleFalsePositive MemberRole = "FALSE_POSITIVE"
)

type StackMember struct {
	ItemID string     `json:"item_uuid"`
	Role   MemberRole `json:"role"`
}

// DupStack is a cluster of items believed to represent the same real-world
// entity: exactly one REFERENCE plus role-tagged members. An item belongs to
// at most one active stack at a time.
type DupStack struct {
	UUID        string        `json:"uuid"`
	WorkspaceID string        `json:"workspace_id"`
	ItemType    ItemType      `json:"item_type"`
	Members     []StackMember `json:"members"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Reference returns the item id of the REFERENCE member.
func (s *DupStack) Reference() (string, bool) {
	for _, m := range s.Members {
		if m.Role == RoleReference {
			return m.ItemID, true
		}
	}
	return "", false
}

func (s *DupStack) RoleOf(itemID string) (MemberRole, bool) {
	for _, m := range s.Members {
		if m.ItemID == itemID {
			return m.Role, true
		}
	}
	return "", false
}

// WithRole returns the item ids of all members carrying the given role.
func (s *DupStack) WithRole(role MemberRole) []string {
	var ids []string
	for _, m := range s.Members {
		if m.Role == role {
			ids = append(ids, m.ItemID)
		}
	}
	return ids
}

// Remove drops the member with the given item id, if present.
func (s *DupStack) Remove(itemID string) {
	for i, m := range s.Members {
		if m.ItemID == itemID {
			s.Members = append(s.Members[:i], s.Members[i+1:]...)
			return
		}
	}
}

// SetRole re-tags an existing member.
func (s *DupStack) SetRole(itemID string, role MemberRole) bool {
	for i, m := range s.Members {
		if m.ItemID == itemID {
			s.Members[i].Role = role
			return true
		}
	}
	return false
}

// Validate checks the stack's structural invariants: exactly one REFERENCE,
// no duplicate members, no empty item ids.
func (s *DupStack) Validate() error {
	refs := 0
	seen := make(map[string]bool, len(s.Members))
	for _, m := range s.Members {
		if m.ItemID == "" {
			return fmt.Errorf("stack %s has a member with an empty item id", s.UUID)
		}
		if seen[m.ItemID] {
			return fmt.Errorf("stack %s lists item %s twice", s.UUID, m.ItemID)
		}
		seen[m.ItemID] = true
		if m.Role == RoleReference {
			refs++
		}
	}
	if refs != 1 {
		return fmt.Errorf("stack %s has %d REFERENCE members, want exactly 1", s.UUID, refs)
	}
	return nil
}
