package list

import (
	"fmt"
	"strings"
	"time"
)

// State is the canonical in-memory snapshot. It is owned by the engine's
// dispatch loop; everything else only reads copies of it.
type State struct {
	Items          []Item
	Catalog        []Product
	Aliases        []Alias
	Sort           SortType
	SortGroups     SortGroups
	Loading        bool
	Confirmation   *ConfirmationRequest
	ExpandedItemID string
}

// NewState returns an empty snapshot.
func NewState() State {
	return State{Sort: SortNone, SortGroups: SortGroups{}}
}

// FindItem returns the item with the given id, if present.
func (s State) FindItem(id string) (Item, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// FindOpenItemByName returns the first non-purchased item whose name matches
// case-insensitively.
func (s State) FindOpenItemByName(name string) (Item, bool) {
	for _, item := range s.Items {
		if item.Status != StatusPurchased && strings.EqualFold(item.Name, name) {
			return item, true
		}
	}
	return Item{}, false
}

// Reduce applies an action to a state and returns the next state. It is pure
// apart from timestamp-derived ids for synthesized catalog entries: no I/O,
// no mutation of the input slices.
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case AddItem:
		return reduceAddItem(state, a.Item)

	case RemoveItem:
		return removeItems(state, map[string]bool{a.ID: true})

	case RemoveItems:
		ids := make(map[string]bool, len(a.IDs))
		for _, id := range a.IDs {
			ids[id] = true
		}
		return removeItems(state, ids)

	case UpdateItem:
		items := make([]Item, len(state.Items))
		for i, item := range state.Items {
			if item.ID == a.ID {
				item = a.Patch.Apply(item)
			}
			items[i] = item
		}
		state.Items = items
		return state

	case UpdateItemQuantity:
		items := make([]Item, len(state.Items))
		for i, item := range state.Items {
			if item.ID == a.ID {
				item.Quantity = a.Quantity
			}
			items[i] = item
		}
		state.Items = items
		return state

	case SetItems:
		state.Items = a.Items
		return state

	case SetProducts:
		state.Catalog = a.Products
		return state

	case SetAliases:
		state.Aliases = a.Aliases
		return state

	case SetSorting:
		state.Sort = a.Sort
		return state

	case SetSortedItems:
		state.Items = a.Items
		state.SortGroups = a.Groups
		state.Loading = false
		return state

	case SetLoading:
		state.Loading = a.Loading
		return state

	case UpdateProduct:
		catalog := make([]Product, len(state.Catalog))
		for i, p := range state.Catalog {
			if p.ID == a.ID {
				if a.Name != nil {
					p.Name = *a.Name
				}
				if a.AliasID != nil {
					p.AliasID = *a.AliasID
				}
				if a.Category != nil {
					p.Category = *a.Category
				}
			}
			catalog[i] = p
		}
		state.Catalog = catalog
		return state

	case RemoveProduct:
		return reduceRemoveProduct(state, a.ID)

	case GroupProducts:
		return reduceGroupProducts(state, a.ProductIDs, a.AliasName)

	case RequestConfirmation:
		req := a.Request
		state.Confirmation = &req
		return state

	case ClearConfirmation:
		state.Confirmation = nil
		return state

	case SetExpandedItem:
		state.ExpandedItemID = a.ID
		return state

	default:
		return state
	}
}

func reduceAddItem(state State, newItem Item) State {
	// Merge-on-insert: a non-purchased item with the same name absorbs the
	// new quantity instead of duplicating the row.
	for i, item := range state.Items {
		if item.Status != StatusPurchased && strings.EqualFold(item.Name, newItem.Name) {
			items := make([]Item, len(state.Items))
			copy(items, state.Items)
			items[i].Quantity += newItem.Quantity
			state.Items = items
			return state
		}
	}

	items := make([]Item, 0, len(state.Items)+1)
	items = append(items, newItem)
	items = append(items, state.Items...)
	state.Items = items

	if !catalogHasName(state.Catalog, newItem.Name) {
		ts := time.Now().UTC().Format(time.RFC3339Nano)
		alias := Alias{ID: fmt.Sprintf("alias_%s", ts), Name: newItem.Name}
		product := Product{ID: fmt.Sprintf("prod_%s", ts), Name: newItem.Name, AliasID: alias.ID}
		state.Catalog = append(append([]Product{}, state.Catalog...), product)
		state.Aliases = append(append([]Alias{}, state.Aliases...), alias)
	}
	return state
}

func removeItems(state State, ids map[string]bool) State {
	items := make([]Item, 0, len(state.Items))
	for _, item := range state.Items {
		if !ids[item.ID] {
			items = append(items, item)
		}
	}
	state.Items = items
	return state
}

func reduceRemoveProduct(state State, id string) State {
	var removed *Product
	for i := range state.Catalog {
		if state.Catalog[i].ID == id {
			removed = &state.Catalog[i]
			break
		}
	}
	if removed == nil {
		return state
	}

	catalog := make([]Product, 0, len(state.Catalog)-1)
	aliasStillUsed := false
	for _, p := range state.Catalog {
		if p.ID == id {
			continue
		}
		catalog = append(catalog, p)
		if p.AliasID == removed.AliasID {
			aliasStillUsed = true
		}
	}
	state.Catalog = catalog

	if !aliasStillUsed {
		aliases := make([]Alias, 0, len(state.Aliases))
		for _, alias := range state.Aliases {
			if alias.ID != removed.AliasID {
				aliases = append(aliases, alias)
			}
		}
		state.Aliases = aliases
	}
	return state
}

func reduceGroupProducts(state State, productIDs []string, aliasName string) State {
	targetID := ""
	for _, alias := range state.Aliases {
		if strings.EqualFold(alias.Name, aliasName) {
			targetID = alias.ID
			break
		}
	}

	aliases := append([]Alias{}, state.Aliases...)
	if targetID == "" {
		targetID = fmt.Sprintf("alias_%s", time.Now().UTC().Format(time.RFC3339Nano))
		aliases = append(aliases, Alias{ID: targetID, Name: aliasName})
	}

	selected := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		selected[id] = true
	}

	sourceAliasIDs := make(map[string]bool)
	catalog := make([]Product, len(state.Catalog))
	for i, p := range state.Catalog {
		if selected[p.ID] {
			sourceAliasIDs[p.AliasID] = true
			p.AliasID = targetID
		}
		catalog[i] = p
	}

	// Prune source aliases left with no products. The target is never pruned.
	for oldID := range sourceAliasIDs {
		if oldID == targetID {
			continue
		}
		used := false
		for _, p := range catalog {
			if p.AliasID == oldID {
				used = true
				break
			}
		}
		if !used {
			kept := aliases[:0:0]
			for _, alias := range aliases {
				if alias.ID != oldID {
					kept = append(kept, alias)
				}
			}
			aliases = kept
		}
	}

	state.Catalog = catalog
	state.Aliases = aliases
	return state
}

func catalogHasName(catalog []Product, name string) bool {
	for _, p := range catalog {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}
