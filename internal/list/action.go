package list

// Action is the closed set of state transitions understood by Reduce. All
// mutation of a State flows through one of these; nothing mutates the
// snapshot directly.
type Action interface {
	isAction()
}

// AddItem inserts an item, merging into an existing non-purchased item with
// the same name (case-insensitive) by summing quantities.
type AddItem struct {
	Item Item
}

// RemoveItem deletes an item by id. Removing an absent id is a no-op.
type RemoveItem struct {
	ID string
}

// RemoveItems deletes several items by id.
type RemoveItems struct {
	IDs []string
}

// UpdateItem merges a partial patch into the item with the given id.
type UpdateItem struct {
	ID    string
	Patch ItemPatch
}

// UpdateItemQuantity sets an item's quantity.
type UpdateItemQuantity struct {
	ID       string
	Quantity int
}

// SetItems replaces the whole item list, e.g. after a full remote fetch.
type SetItems struct {
	Items []Item
}

// SetProducts replaces the product catalog.
type SetProducts struct {
	Products []Product
}

// SetAliases replaces the alias set.
type SetAliases struct {
	Aliases []Alias
}

// SetSorting records the requested sort mode.
type SetSorting struct {
	Sort SortType
}

// SetSortedItems installs a sorted item order plus the groups that produced
// it, and clears the loading flag.
type SetSortedItems struct {
	Items  []Item
	Groups SortGroups
}

// SetLoading toggles the loading flag.
type SetLoading struct {
	Loading bool
}

// UpdateProduct merges partial fields into a catalog product.
type UpdateProduct struct {
	ID       string
	Name     *string
	AliasID  *string
	Category *string
}

// RemoveProduct deletes a catalog product, pruning its alias when no other
// product references it.
type RemoveProduct struct {
	ID string
}

// GroupProducts re-parents the selected products to the named alias, creating
// it if needed and pruning source aliases left empty.
type GroupProducts struct {
	ProductIDs []string
	AliasName  string
}

// RequestConfirmation parks a deferred action behind a user confirmation. A
// second request replaces the first; there is no queue.
type RequestConfirmation struct {
	Request ConfirmationRequest
}

// ClearConfirmation discards any pending confirmation.
type ClearConfirmation struct{}

// SetExpandedItem records which item is expanded in a UI surface. Empty id
// collapses.
type SetExpandedItem struct {
	ID string
}

func (AddItem) isAction()             {}
func (RemoveItem) isAction()          {}
func (RemoveItems) isAction()         {}
func (UpdateItem) isAction()          {}
func (UpdateItemQuantity) isAction()  {}
func (SetItems) isAction()            {}
func (SetProducts) isAction()         {}
func (SetAliases) isAction()          {}
func (SetSorting) isAction()          {}
func (SetSortedItems) isAction()      {}
func (SetLoading) isAction()          {}
func (UpdateProduct) isAction()       {}
func (RemoveProduct) isAction()       {}
func (GroupProducts) isAction()       {}
func (RequestConfirmation) isAction() {}
func (ClearConfirmation) isAction()   {}
func (SetExpandedItem) isAction()     {}
