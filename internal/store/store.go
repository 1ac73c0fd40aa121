// Package store defines the remote-store contracts the sync engine talks to,
// plus an in-process implementation. The durable legs live in the sqlitestore
// and pgstore subpackages.
package store

import (
	"context"

	"shoplist/internal/list"
)

// ItemHandlers receives pushed change events for one list. Handlers are
// invoked in event order for a given subscription.
type ItemHandlers struct {
	OnInsert func(list.Item)
	OnUpdate func(list.Item)
	OnDelete func(id string)
}

// MemberHandlers receives membership change notifications. The payload is
// deliberately empty: consumers refetch the member set on change.
type MemberHandlers struct {
	OnChange func()
}

// ItemStore is the remote authority for list items. A nil item result from
// InsertItem or UpdateItem signals failure without a transport error; the
// engine treats both the same way and rolls back.
type ItemStore interface {
	FetchItems(ctx context.Context, listID string) ([]list.Item, error)
	InsertItem(ctx context.Context, listID string, draft list.ItemDraft) (*list.Item, error)
	UpdateItem(ctx context.Context, listID, id string, patch list.ItemPatch) (*list.Item, error)
	DeleteItem(ctx context.Context, listID, id string) (bool, error)
	SubscribeItems(listID string, h ItemHandlers) (func(), error)
}

// CatalogStore persists the shared product catalog.
type CatalogStore interface {
	FetchProducts(ctx context.Context) ([]list.Product, error)
	FetchAliases(ctx context.Context) ([]list.Alias, error)
	CreateProduct(ctx context.Context, p list.Product) (*list.Product, error)
	CreateAlias(ctx context.Context, a list.Alias) (*list.Alias, error)
}

// ListStore persists lists and memberships. Role policy (who may rename,
// leave, regenerate codes) lives in the roster service, not here.
type ListStore interface {
	FetchUserLists(ctx context.Context, userID string) ([]list.Summary, error)
	GetList(ctx context.Context, listID string) (*list.Summary, error)
	CreateList(ctx context.Context, ownerID, name, accessCode string) (*list.Summary, error)
	RenameList(ctx context.Context, listID, name string) error
	SetAccessCode(ctx context.Context, listID, code string) error
	FindListByAccessCode(ctx context.Context, code string) (*list.Summary, error)
	FetchMembers(ctx context.Context, listID string) ([]list.Member, error)
	UpsertMember(ctx context.Context, listID, userID string, role list.Role) error
	RemoveMember(ctx context.Context, listID, userID string) error
	SubscribeMembers(listID string, h MemberHandlers) (func(), error)
}

// Store bundles the three contracts; both durable implementations satisfy it.
type Store interface {
	ItemStore
	CatalogStore
	ListStore
}
