package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shoplist/internal/list"
)

// Memory is an in-process Store. It serves single-node runs and tests; the
// change feed fires synchronously after each successful write, which mimics
// the worst-case echo of a real push feed (our own writes come back at us).
type Memory struct {
	mu       sync.Mutex
	items    map[string][]list.Item // keyed by list id
	lists    map[string]list.Summary
	members  map[string][]list.Member // keyed by list id
	products []list.Product
	aliases  []list.Alias
	feed     *Feed
	now      func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		items:   make(map[string][]list.Item),
		lists:   make(map[string]list.Summary),
		members: make(map[string][]list.Member),
		feed:    NewFeed(),
		now:     time.Now,
	}
}

func (m *Memory) FetchItems(ctx context.Context, listID string) ([]list.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]list.Item, len(m.items[listID]))
	copy(items, m.items[listID])
	return items, nil
}

func (m *Memory) InsertItem(ctx context.Context, listID string, draft list.ItemDraft) (*list.Item, error) {
	item := list.Item{
		ID:         uuid.NewString(),
		Name:       draft.Name,
		Quantity:   draft.Quantity,
		Unit:       draft.Unit,
		Priority:   draft.Priority,
		Status:     draft.Status,
		AssigneeID: draft.AssigneeID,
	}
	m.mu.Lock()
	// New items go to the front, matching the durable stores.
	m.items[listID] = append([]list.Item{item}, m.items[listID]...)
	m.mu.Unlock()
	m.feed.EmitInsert(listID, item)
	return &item, nil
}

func (m *Memory) UpdateItem(ctx context.Context, listID, id string, patch list.ItemPatch) (*list.Item, error) {
	m.mu.Lock()
	var updated *list.Item
	for i, item := range m.items[listID] {
		if item.ID == id {
			next := patch.Apply(item)
			m.items[listID][i] = next
			updated = &next
			break
		}
	}
	m.mu.Unlock()
	if updated == nil {
		return nil, nil
	}
	m.feed.EmitUpdate(listID, *updated)
	return updated, nil
}

func (m *Memory) DeleteItem(ctx context.Context, listID, id string) (bool, error) {
	m.mu.Lock()
	found := false
	kept := m.items[listID][:0:0]
	for _, item := range m.items[listID] {
		if item.ID == id {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	m.items[listID] = kept
	m.mu.Unlock()
	if found {
		m.feed.EmitDelete(listID, id)
	}
	return found, nil
}

func (m *Memory) SubscribeItems(listID string, h ItemHandlers) (func(), error) {
	return m.feed.SubscribeItems(listID, h), nil
}

func (m *Memory) FetchProducts(ctx context.Context) ([]list.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	products := make([]list.Product, len(m.products))
	copy(products, m.products)
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (m *Memory) FetchAliases(ctx context.Context) ([]list.Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	aliases := make([]list.Alias, len(m.aliases))
	copy(aliases, m.aliases)
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Name < aliases[j].Name })
	return aliases, nil
}

func (m *Memory) CreateProduct(ctx context.Context, p list.Product) (*list.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append(m.products, p)
	return &p, nil
}

func (m *Memory) CreateAlias(ctx context.Context, a list.Alias) (*list.Alias, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases = append(m.aliases, a)
	return &a, nil
}

func (m *Memory) FetchUserLists(ctx context.Context, userID string) ([]list.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []list.Summary
	for listID, members := range m.members {
		for _, member := range members {
			if member.UserID == userID {
				summary := m.lists[listID]
				summary.Role = member.Role
				out = append(out, summary)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetList(ctx context.Context, listID string) (*list.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary, ok := m.lists[listID]
	if !ok {
		return nil, nil
	}
	return &summary, nil
}

func (m *Memory) CreateList(ctx context.Context, ownerID, name, accessCode string) (*list.Summary, error) {
	summary := list.Summary{
		ID:         uuid.NewString(),
		Name:       name,
		OwnerID:    ownerID,
		AccessCode: accessCode,
		CreatedAt:  m.now().UTC(),
	}
	m.mu.Lock()
	m.lists[summary.ID] = summary
	m.members[summary.ID] = append(m.members[summary.ID], list.Member{UserID: ownerID, Role: list.RoleOwner})
	m.mu.Unlock()
	m.feed.EmitMemberChange(summary.ID)
	return &summary, nil
}

func (m *Memory) RenameList(ctx context.Context, listID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary, ok := m.lists[listID]
	if !ok {
		return nil
	}
	summary.Name = name
	m.lists[listID] = summary
	return nil
}

func (m *Memory) SetAccessCode(ctx context.Context, listID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary, ok := m.lists[listID]
	if !ok {
		return nil
	}
	summary.AccessCode = code
	m.lists[listID] = summary
	return nil
}

func (m *Memory) FindListByAccessCode(ctx context.Context, code string) (*list.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, summary := range m.lists {
		if strings.EqualFold(summary.AccessCode, code) {
			s := summary
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) FetchMembers(ctx context.Context, listID string) ([]list.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]list.Member, len(m.members[listID]))
	copy(members, m.members[listID])
	return members, nil
}

func (m *Memory) UpsertMember(ctx context.Context, listID, userID string, role list.Role) error {
	m.mu.Lock()
	replaced := false
	for i, member := range m.members[listID] {
		if member.UserID == userID {
			m.members[listID][i].Role = role
			replaced = true
			break
		}
	}
	if !replaced {
		m.members[listID] = append(m.members[listID], list.Member{UserID: userID, Role: role})
	}
	m.mu.Unlock()
	m.feed.EmitMemberChange(listID)
	return nil
}

func (m *Memory) RemoveMember(ctx context.Context, listID, userID string) error {
	m.mu.Lock()
	kept := m.members[listID][:0:0]
	for _, member := range m.members[listID] {
		if member.UserID != userID {
			kept = append(kept, member)
		}
	}
	m.members[listID] = kept
	m.mu.Unlock()
	m.feed.EmitMemberChange(listID)
	return nil
}

func (m *Memory) SubscribeMembers(listID string, h MemberHandlers) (func(), error) {
	return m.feed.SubscribeMembers(listID, h), nil
}

var _ Store = (*Memory)(nil)
