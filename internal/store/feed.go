package store

import (
	"sync"

	"shoplist/internal/list"
)

// Feed fans change events out to per-list subscribers. It backs the
// in-process store and the sqlite store, where writer and readers share a
// process; the Postgres store gets the same shape from LISTEN/NOTIFY.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	items   map[string]map[int]ItemHandlers
	members map[string]map[int]MemberHandlers
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{
		items:   make(map[string]map[int]ItemHandlers),
		members: make(map[string]map[int]MemberHandlers),
	}
}

// SubscribeItems registers handlers for one list and returns an unsubscribe
// function. Events already being delivered when unsubscribe is called may
// still arrive; consumers tolerate that.
func (f *Feed) SubscribeItems(listID string, h ItemHandlers) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.items[listID] == nil {
		f.items[listID] = make(map[int]ItemHandlers)
	}
	f.items[listID][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.items[listID], id)
	}
}

// SubscribeMembers registers a membership-change handler for one list.
func (f *Feed) SubscribeMembers(listID string, h MemberHandlers) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.members[listID] == nil {
		f.members[listID] = make(map[int]MemberHandlers)
	}
	f.members[listID][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.members[listID], id)
	}
}

func (f *Feed) itemHandlers(listID string) []ItemHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]ItemHandlers, 0, len(f.items[listID]))
	for _, h := range f.items[listID] {
		subs = append(subs, h)
	}
	return subs
}

// EmitInsert delivers an insert event to all subscribers of the list.
func (f *Feed) EmitInsert(listID string, item list.Item) {
	for _, h := range f.itemHandlers(listID) {
		if h.OnInsert != nil {
			h.OnInsert(item)
		}
	}
}

// EmitUpdate delivers an update event to all subscribers of the list.
func (f *Feed) EmitUpdate(listID string, item list.Item) {
	for _, h := range f.itemHandlers(listID) {
		if h.OnUpdate != nil {
			h.OnUpdate(item)
		}
	}
}

// EmitDelete delivers a delete event to all subscribers of the list.
func (f *Feed) EmitDelete(listID, id string) {
	for _, h := range f.itemHandlers(listID) {
		if h.OnDelete != nil {
			h.OnDelete(id)
		}
	}
}

// EmitMemberChange notifies member subscribers of the list.
func (f *Feed) EmitMemberChange(listID string) {
	f.mu.Lock()
	subs := make([]MemberHandlers, 0, len(f.members[listID]))
	for _, h := range f.members[listID] {
		subs = append(subs, h)
	}
	f.mu.Unlock()
	for _, h := range subs {
		if h.OnChange != nil {
			h.OnChange()
		}
	}
}
