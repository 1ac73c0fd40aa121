package list

import "time"

// Priority orders items from none (lowest) to high.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

// String returns the label used in prompts and bot output.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "None"
	}
}

// ParsePriority maps a label like "High" to a Priority. Unknown labels map to
// PriorityNone.
func ParsePriority(s string) Priority {
	switch s {
	case "Low", "low":
		return PriorityLow
	case "Medium", "medium":
		return PriorityMedium
	case "High", "high":
		return PriorityHigh
	default:
		return PriorityNone
	}
}

// Status is the lifecycle state of a list item.
type Status string

const (
	StatusOpen      Status = "open"
	StatusIntention Status = "intention"
	StatusPurchased Status = "purchased"
)

// Item is a single entry on a shopping list.
type Item struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Quantity   int      `json:"quantity"`
	Unit       string   `json:"unit"`
	Priority   Priority `json:"priority"`
	Status     Status   `json:"status"`
	AssigneeID string   `json:"assignee_user_id,omitempty"`
}

// ItemDraft is an item without an id, used for inserts. The store assigns the
// canonical id.
type ItemDraft struct {
	Name       string   `json:"name"`
	Quantity   int      `json:"quantity"`
	Unit       string   `json:"unit"`
	Priority   Priority `json:"priority"`
	Status     Status   `json:"status"`
	AssigneeID string   `json:"assignee_user_id,omitempty"`
}

// ItemPatch is a partial update. Nil fields are left untouched. An explicit
// empty AssigneeID clears the assignee.
type ItemPatch struct {
	Name       *string   `json:"name,omitempty"`
	Quantity   *int      `json:"quantity,omitempty"`
	Unit       *string   `json:"unit,omitempty"`
	Priority   *Priority `json:"priority,omitempty"`
	Status     *Status   `json:"status,omitempty"`
	AssigneeID *string   `json:"assignee_user_id,omitempty"`
}

// Apply merges the patch into a copy of the item.
func (p ItemPatch) Apply(item Item) Item {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.Unit != nil {
		item.Unit = *p.Unit
	}
	if p.Priority != nil {
		item.Priority = *p.Priority
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.AssigneeID != nil {
		item.AssigneeID = *p.AssigneeID
	}
	return item
}

// PatchOf returns a patch that would turn any item into this item. Used by
// the engine to roll an optimistic update back to the pre-mutation snapshot.
func PatchOf(item Item) ItemPatch {
	return ItemPatch{
		Name:       &item.Name,
		Quantity:   &item.Quantity,
		Unit:       &item.Unit,
		Priority:   &item.Priority,
		Status:     &item.Status,
		AssigneeID: &item.AssigneeID,
	}
}

// Product is a catalog entry. Every product belongs to exactly one alias.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AliasID  string `json:"alias_id"`
	Category string `json:"category,omitempty"`
}

// Alias is a named grouping bucket over one or more catalog products.
type Alias struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SortType selects how the list is ordered.
type SortType string

const (
	SortNone     SortType = "none"
	SortPriority SortType = "priority"
	SortLocation SortType = "location"
	SortContext  SortType = "context"
)

// SortGroups maps a group label to the ordered item names inside it.
type SortGroups map[string][]string

// ConfirmationRequest holds a deferred destructive action until the user
// confirms or cancels it. At most one is pending at a time.
type ConfirmationRequest struct {
	Question string
	ItemIDs  []string
	Action   Action
}

// Role is a member's permission level on a list.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Member is a user's membership in a list.
type Member struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role"`
}

// Summary describes a list from one member's perspective.
type Summary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerID    string    `json:"owner_id"`
	AccessCode string    `json:"access_code,omitempty"`
	Role       Role      `json:"role,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
