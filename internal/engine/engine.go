// Package engine keeps a local list snapshot in sync with the remote store.
// All mutation funnels through a single reducer dispatch; user edits apply
// optimistically and roll back when the remote call fails; pushed remote
// events fold into the same snapshot behind idempotent guards.
package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"shoplist/internal/command"
	"shoplist/internal/list"
	"shoplist/internal/shared"
	"shoplist/internal/store"
)

// MetricsRecorder persists oracle call metadata. Nil is allowed everywhere a
// recorder is optional.
type MetricsRecorder interface {
	RecordMeta(meta shared.AgentMeta) error
}

// Engine owns the canonical snapshot for one active list.
type Engine struct {
	mu    sync.Mutex
	state list.State

	listID  string
	items   store.ItemStore
	catalog store.CatalogStore
	interp  *command.Interpreter
	metrics MetricsRecorder

	unsubscribe func()
}

// New creates an engine for one list. catalog, interp and metrics may be nil
// when the corresponding feature is not wired (e.g. in tests).
func New(listID string, items store.ItemStore, catalog store.CatalogStore, interp *command.Interpreter, metrics MetricsRecorder) *Engine {
	return &Engine{
		state:   list.NewState(),
		listID:  listID,
		items:   items,
		catalog: catalog,
		interp:  interp,
		metrics: metrics,
	}
}

// Dispatch applies one action to the snapshot. This is the only place the
// snapshot changes.
func (e *Engine) Dispatch(action list.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = list.Reduce(e.state, action)
}

// Snapshot returns the current state. The returned value shares slices with
// the live snapshot; the reducer copies on write, so readers are safe.
func (e *Engine) Snapshot() list.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start loads the initial snapshot and subscribes to the remote change feed.
// The full fetch always establishes the baseline: it overwrites whatever
// pushed events might have arrived first.
func (e *Engine) Start(ctx context.Context) error {
	sub, err := e.items.SubscribeItems(e.listID, store.ItemHandlers{
		OnInsert: e.ingestInsert,
		OnUpdate: e.ingestUpdate,
		OnDelete: e.ingestDelete,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to item changes: %w", err)
	}
	e.unsubscribe = sub

	if err := e.Refresh(ctx); err != nil {
		sub()
		e.unsubscribe = nil
		return err
	}

	if e.catalog != nil {
		e.loadCatalog(ctx)
	}
	return nil
}

// Stop unsubscribes from the change feed. Events already in flight may still
// be delivered; they fold in harmlessly thanks to the idempotent guards.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// Refresh replaces the snapshot with a full remote fetch.
func (e *Engine) Refresh(ctx context.Context) error {
	e.Dispatch(list.SetLoading{Loading: true})
	defer e.Dispatch(list.SetLoading{Loading: false})

	items, err := e.items.FetchItems(ctx, e.listID)
	if err != nil {
		return fmt.Errorf("failed to fetch items: %w", err)
	}
	e.Dispatch(list.SetItems{Items: items})
	return nil
}

func (e *Engine) loadCatalog(ctx context.Context) {
	products, err := e.catalog.FetchProducts(ctx)
	if err != nil {
		log.Printf("Failed to load products: %v", err)
	} else if len(products) > 0 {
		e.Dispatch(list.SetProducts{Products: products})
	}

	aliases, err := e.catalog.FetchAliases(ctx)
	if err != nil {
		log.Printf("Failed to load aliases: %v", err)
	} else if len(aliases) > 0 {
		e.Dispatch(list.SetAliases{Aliases: aliases})
	}
}

// ingestInsert applies a pushed insert unless an item with that id is already
// present, which happens when our own optimistic write is echoed back.
func (e *Engine) ingestInsert(item list.Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.FindItem(item.ID); ok {
		return
	}
	e.state = list.Reduce(e.state, list.AddItem{Item: item})
}

// ingestUpdate merges a pushed update unconditionally; last write wins.
func (e *Engine) ingestUpdate(item list.Item) {
	e.Dispatch(list.UpdateItem{ID: item.ID, Patch: list.PatchOf(item)})
}

// ingestDelete removes by id; deleting an absent id is a no-op.
func (e *Engine) ingestDelete(id string) {
	e.Dispatch(list.RemoveItem{ID: id})
}

// SyncUpdateItem applies a patch optimistically and reconciles with the
// remote store, restoring the pre-mutation item on failure.
func (e *Engine) SyncUpdateItem(ctx context.Context, id string, patch list.ItemPatch) error {
	before, ok := e.Snapshot().FindItem(id)
	if !ok {
		return nil
	}

	e.Dispatch(list.UpdateItem{ID: id, Patch: patch})

	updated, err := e.items.UpdateItem(ctx, e.listID, id, patch)
	if err != nil || updated == nil {
		e.Dispatch(list.UpdateItem{ID: id, Patch: list.PatchOf(before)})
		if err != nil {
			return fmt.Errorf("failed to sync update, change reverted: %w", err)
		}
	}
	return nil
}

// SyncRemoveItem removes an item optimistically, re-inserting it if the
// remote delete fails.
func (e *Engine) SyncRemoveItem(ctx context.Context, id string) error {
	removed, ok := e.Snapshot().FindItem(id)
	if !ok {
		return nil
	}

	e.Dispatch(list.RemoveItem{ID: id})

	deleted, err := e.items.DeleteItem(ctx, e.listID, id)
	if err != nil || !deleted {
		e.Dispatch(list.AddItem{Item: removed})
		if err != nil {
			return fmt.Errorf("failed to sync removal, item restored: %w", err)
		}
	}
	return nil
}

// SyncAddItem inserts a draft through the three-phase optimistic protocol:
// add under a temporary id, call the store, then either swap in the canonical
// record or drop the temporary one.
func (e *Engine) SyncAddItem(ctx context.Context, draft list.ItemDraft) error {
	wasKnown := catalogKnows(e.Snapshot(), draft.Name)

	tempID := "temp-" + uuid.NewString()
	e.Dispatch(list.AddItem{Item: draftItem(tempID, draft)})

	created, err := e.items.InsertItem(ctx, e.listID, draft)
	if err != nil || created == nil {
		e.Dispatch(list.RemoveItem{ID: tempID})
		if err != nil {
			return fmt.Errorf("failed to add item: %w", err)
		}
		return nil
	}

	// Commit-replace: remove the temporary record, then add the canonical
	// one so merge-on-insert still applies.
	e.Dispatch(list.RemoveItem{ID: tempID})
	e.Dispatch(list.AddItem{Item: *created})

	if !wasKnown && e.catalog != nil {
		e.persistSynthesizedCatalog(ctx, created.Name)
	}
	return nil
}

// syncRemoveItems removes a batch optimistically. If any remote delete fails
// the whole batch is restored; a later push event or refresh converges the
// partial remote state.
func (e *Engine) syncRemoveItems(ctx context.Context, removed []list.Item) error {
	ids := make([]string, len(removed))
	for i, item := range removed {
		ids[i] = item.ID
	}
	e.Dispatch(list.RemoveItems{IDs: ids})

	var failed bool
	var firstErr error
	for _, id := range ids {
		deleted, err := e.items.DeleteItem(ctx, e.listID, id)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil || !deleted {
			failed = true
		}
	}
	if failed {
		for _, item := range removed {
			e.Dispatch(list.AddItem{Item: item})
		}
		if firstErr != nil {
			return fmt.Errorf("failed to remove items, batch restored: %w", firstErr)
		}
	}
	return nil
}

// persistSynthesizedCatalog saves the alias/product pair the reducer
// synthesized for a name that was new to the catalog. Best effort.
func (e *Engine) persistSynthesizedCatalog(ctx context.Context, name string) {
	state := e.Snapshot()
	for _, alias := range state.Aliases {
		if alias.Name == name {
			if _, err := e.catalog.CreateAlias(ctx, alias); err != nil {
				log.Printf("Failed to persist alias %q: %v", name, err)
			}
			break
		}
	}
	for _, product := range state.Catalog {
		if product.Name == name {
			if _, err := e.catalog.CreateProduct(ctx, product); err != nil {
				log.Printf("Failed to persist product %q: %v", name, err)
			}
			break
		}
	}
}

// ProcessTextCommand interprets free text and executes the resulting plan.
// Destructive bulk removals are parked behind a confirmation instead of
// running immediately.
func (e *Engine) ProcessTextCommand(ctx context.Context, text string) error {
	e.Dispatch(list.SetLoading{Loading: true})
	defer e.Dispatch(list.SetLoading{Loading: false})

	snapshot := e.Snapshot()
	cmd, meta := e.interp.Interpret(ctx, text, snapshot.Items)
	e.record(meta)

	switch cmd.Intent {
	case command.IntentAdd:
		return e.runAdd(ctx, cmd.Items)
	case command.IntentRemove:
		return e.runRemove(ctx, cmd, snapshot)
	case command.IntentUpdate:
		return e.runUpdate(ctx, cmd.Items, snapshot)
	default:
		return nil
	}
}

func (e *Engine) runAdd(ctx context.Context, items []command.ParsedItem) error {
	var firstErr error
	for _, parsed := range items {
		if parsed.ItemName == "" {
			continue
		}
		if err := e.SyncAddItem(ctx, parsedDraft(parsed, true)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) runRemove(ctx context.Context, cmd command.Command, snapshot list.State) error {
	if cmd.RemoveCriteria == nil || len(cmd.RemoveCriteria.ItemNames) == 0 {
		return nil
	}

	targets := make(map[string]bool, len(cmd.RemoveCriteria.ItemNames))
	for _, name := range cmd.RemoveCriteria.ItemNames {
		targets[normalizeName(name)] = true
	}

	var matched []list.Item
	for _, item := range snapshot.Items {
		if targets[normalizeName(item.Name)] {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	ids := make([]string, len(matched))
	for i, item := range matched {
		ids[i] = item.ID
	}

	if cmd.Confirmation != nil && cmd.Confirmation.Required {
		e.Dispatch(list.RequestConfirmation{Request: list.ConfirmationRequest{
			Question: cmd.Confirmation.Question,
			ItemIDs:  ids,
			Action:   list.RemoveItems{IDs: ids},
		}})
		return nil
	}
	return e.syncRemoveItems(ctx, matched)
}

func (e *Engine) runUpdate(ctx context.Context, items []command.ParsedItem, snapshot list.State) error {
	var firstErr error
	for _, parsed := range items {
		if parsed.ItemName == "" {
			continue
		}

		existing, found := snapshot.FindOpenItemByName(parsed.ItemName)
		if !found || parsed.Quantity == nil {
			// Unknown item in an UPDATE is an implicit ADD.
			if err := e.SyncAddItem(ctx, parsedDraft(parsed, false)); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		delta := int(math.Round(*parsed.Quantity))
		var newQuantity int
		switch parsed.UpdateType {
		case command.UpdateAbsolute:
			newQuantity = delta
		case command.UpdateRelativeDecrease:
			newQuantity = existing.Quantity - delta
		default:
			// RELATIVE_INCREASE, including missing or unknown update types.
			newQuantity = existing.Quantity + delta
		}

		if newQuantity <= 0 {
			if err := e.SyncRemoveItem(ctx, existing.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		e.Dispatch(list.UpdateItemQuantity{ID: existing.ID, Quantity: newQuantity})
		updated, err := e.items.UpdateItem(ctx, e.listID, existing.ID, list.ItemPatch{Quantity: &newQuantity})
		if err != nil || updated == nil {
			e.Dispatch(list.UpdateItemQuantity{ID: existing.ID, Quantity: existing.Quantity})
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to update item, quantity reverted: %w", err)
			}
		}
	}
	return firstErr
}

// ApplySort reorders the snapshot. None and priority sorts are local;
// location and context sorts consult the grouping oracle, and leave the
// order untouched when the oracle fails.
func (e *Engine) ApplySort(ctx context.Context, sortType list.SortType) error {
	e.Dispatch(list.SetSorting{Sort: sortType})
	snapshot := e.Snapshot()

	switch sortType {
	case list.SortNone:
		items := append([]list.Item{}, snapshot.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		e.Dispatch(list.SetSortedItems{Items: items, Groups: list.SortGroups{}})
		return nil

	case list.SortPriority:
		items := append([]list.Item{}, snapshot.Items...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Priority > items[j].Priority })
		e.Dispatch(list.SetSortedItems{Items: items, Groups: list.SortGroups{}})
		return nil
	}

	e.Dispatch(list.SetLoading{Loading: true})
	sorted, groups, meta, err := e.interp.SmartSort(ctx, snapshot.Items, sortType)
	e.record(meta)
	if err != nil {
		e.Dispatch(list.SetLoading{Loading: false})
		return err
	}
	e.Dispatch(list.SetSortedItems{Items: sorted, Groups: groups})
	return nil
}

// Confirm runs the pending deferred action. Remote deletes for the affected
// ids are issued first; the deferred reducer action then applies regardless,
// matching the accepted fire-and-forget contract of the confirm path.
func (e *Engine) Confirm(ctx context.Context) {
	e.mu.Lock()
	pending := e.state.Confirmation
	e.mu.Unlock()

	if pending == nil {
		return
	}

	if removal, ok := pending.Action.(list.RemoveItems); ok {
		for _, id := range removal.IDs {
			if _, err := e.items.DeleteItem(ctx, e.listID, id); err != nil {
				log.Printf("Failed to remove item %s during confirmation: %v", id, err)
			}
		}
	}

	e.Dispatch(pending.Action)
	e.Dispatch(list.ClearConfirmation{})
}

// Cancel discards the pending confirmation without side effects.
func (e *Engine) Cancel() {
	e.Dispatch(list.ClearConfirmation{})
}

func (e *Engine) record(meta shared.AgentMeta) {
	if e.metrics == nil {
		return
	}
	if err := e.metrics.RecordMeta(meta); err != nil {
		log.Printf("Warning: failed to record metrics for %s: %v", meta.AgentName, err)
	}
}

func parsedDraft(parsed command.ParsedItem, keepPriority bool) list.ItemDraft {
	quantity := 1
	if parsed.Quantity != nil {
		if q := int(math.Round(*parsed.Quantity)); q > 0 {
			quantity = q
		}
	}
	unit := parsed.Unit
	if unit == "" {
		unit = "pcs"
	}
	priority := list.PriorityNone
	if keepPriority {
		priority = list.ParsePriority(parsed.Priority)
	}
	return list.ItemDraft{
		Name:     parsed.ItemName,
		Quantity: quantity,
		Unit:     unit,
		Priority: priority,
		Status:   list.StatusOpen,
	}
}

func draftItem(id string, draft list.ItemDraft) list.Item {
	return list.Item{
		ID:         id,
		Name:       draft.Name,
		Quantity:   draft.Quantity,
		Unit:       draft.Unit,
		Priority:   draft.Priority,
		Status:     draft.Status,
		AssigneeID: draft.AssigneeID,
	}
}

func catalogKnows(state list.State, name string) bool {
	for _, p := range state.Catalog {
		if normalizeName(p.Name) == normalizeName(name) {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
