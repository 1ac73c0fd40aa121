package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"shoplist/internal/command"
	"shoplist/internal/list"
	"shoplist/internal/llm"
	"shoplist/internal/store"
)

// fakeItemStore is a scriptable remote store. Failures are signalled the way
// the real stores do: a nil/false result without an error, or an error.
type fakeItemStore struct {
	mu      sync.Mutex
	items   []list.Item
	nextID  int
	deletes []string

	failInsert bool
	failUpdate bool
	failDelete bool
	errInsert  error

	handlers store.ItemHandlers
}

func (f *fakeItemStore) FetchItems(ctx context.Context, listID string) ([]list.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]list.Item, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeItemStore) InsertItem(ctx context.Context, listID string, draft list.ItemDraft) (*list.Item, error) {
	if f.errInsert != nil {
		return nil, f.errInsert
	}
	if f.failInsert {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	item := list.Item{
		ID:       fmt.Sprintf("srv-%d", f.nextID),
		Name:     draft.Name,
		Quantity: draft.Quantity,
		Unit:     draft.Unit,
		Priority: draft.Priority,
		Status:   draft.Status,
	}
	f.items = append(f.items, item)
	return &item, nil
}

func (f *fakeItemStore) UpdateItem(ctx context.Context, listID, id string, patch list.ItemPatch) (*list.Item, error) {
	if f.failUpdate {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, item := range f.items {
		if item.ID == id {
			next := patch.Apply(item)
			f.items[i] = next
			return &next, nil
		}
	}
	return nil, nil
}

func (f *fakeItemStore) DeleteItem(ctx context.Context, listID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.failDelete {
		return false, nil
	}
	for i, item := range f.items {
		if item.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeItemStore) SubscribeItems(listID string, h store.ItemHandlers) (func(), error) {
	f.handlers = h
	return func() {}, nil
}

type scriptedOracle struct {
	response string
	err      error
}

func (s *scriptedOracle) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	if s.err != nil {
		return llm.ContentResponse{}, s.err
	}
	return llm.ContentResponse{Content: s.response}, nil
}

func newTestEngine(st *fakeItemStore, oracle llm.TextGenerator) *Engine {
	var interp *command.Interpreter
	if oracle != nil {
		interp = command.NewInterpreter(oracle)
	}
	return New("list-1", st, nil, interp, nil)
}

func TestProcessTextCommandAdd(t *testing.T) {
	st := &fakeItemStore{}
	oracle := &scriptedOracle{
		response: `{"intent": "ADD", "items": [{"itemName": "Tomato", "quantity": 2, "unit": "kg"}]}`,
	}
	eng := newTestEngine(st, oracle)

	if err := eng.ProcessTextCommand(context.Background(), "2kg tomatoes"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	state := eng.Snapshot()
	if len(state.Items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(state.Items))
	}
	got := state.Items[0]
	if got.Name != "Tomato" || got.Quantity != 2 || got.Unit != "kg" {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.Status != list.StatusOpen || got.Priority != list.PriorityNone {
		t.Errorf("expected open/none defaults, got %+v", got)
	}
	if strings.HasPrefix(got.ID, "temp-") {
		t.Errorf("temporary id survived commit-replace: %s", got.ID)
	}
	if state.Loading {
		t.Error("loading flag left set")
	}
}

func TestProcessTextCommandAddRollsBackFailedInsert(t *testing.T) {
	st := &fakeItemStore{failInsert: true}
	oracle := &scriptedOracle{
		response: `{"intent": "ADD", "items": [{"itemName": "Tomato"}]}`,
	}
	eng := newTestEngine(st, oracle)

	if err := eng.ProcessTextCommand(context.Background(), "tomatoes"); err != nil {
		t.Fatalf("falsy insert result must not surface an error, got %v", err)
	}
	if n := len(eng.Snapshot().Items); n != 0 {
		t.Errorf("expected temporary item removed, got %d items", n)
	}
}

func TestProcessTextCommandOracleFailureAddsLiteralItem(t *testing.T) {
	st := &fakeItemStore{}
	oracle := &scriptedOracle{err: fmt.Errorf("oracle unreachable")}
	eng := newTestEngine(st, oracle)

	if err := eng.ProcessTextCommand(context.Background(), "2 bunches of dill"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	state := eng.Snapshot()
	if len(state.Items) != 1 {
		t.Fatalf("expected literal fallback item, got %d items", len(state.Items))
	}
	got := state.Items[0]
	if got.Name != "2 bunches of dill" || got.Quantity != 1 || got.Unit != "pcs" {
		t.Errorf("unexpected fallback item: %+v", got)
	}
}

func TestProcessTextCommandRemoveRequiresConfirmation(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{
		{ID: "1", Name: "Milk", Quantity: 1, Unit: "L", Status: list.StatusOpen},
		{ID: "2", Name: "Yogurt", Quantity: 4, Unit: "pcs", Status: list.StatusOpen},
		{ID: "3", Name: "Bread", Quantity: 1, Unit: "loaf", Status: list.StatusOpen},
	}}
	oracle := &scriptedOracle{
		response: `{"intent": "REMOVE", "removeCriteria": {"itemNames": ["Milk", "Yogurt"]}, "confirmation": {"required": true, "question": "Remove Milk and Yogurt?"}}`,
	}
	eng := newTestEngine(st, oracle)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.ProcessTextCommand(context.Background(), "remove all dairy"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	state := eng.Snapshot()
	if state.Confirmation == nil {
		t.Fatal("expected a pending confirmation")
	}
	if state.Confirmation.Question != "Remove Milk and Yogurt?" {
		t.Errorf("unexpected question: %s", state.Confirmation.Question)
	}
	if len(state.Confirmation.ItemIDs) != 2 {
		t.Fatalf("expected both ids referenced, got %v", state.Confirmation.ItemIDs)
	}
	if len(state.Items) != 3 {
		t.Errorf("items must not be removed before confirmation, got %d", len(state.Items))
	}
	if len(st.deletes) != 0 {
		t.Errorf("remote deletes issued before confirmation: %v", st.deletes)
	}

	t.Run("ConfirmRemovesAndClears", func(t *testing.T) {
		eng.Confirm(context.Background())

		state := eng.Snapshot()
		if state.Confirmation != nil {
			t.Error("confirmation not cleared")
		}
		if len(state.Items) != 1 || state.Items[0].Name != "Bread" {
			t.Errorf("expected only Bread left, got %+v", state.Items)
		}
		if len(st.deletes) != 2 {
			t.Errorf("expected two remote deletes, got %v", st.deletes)
		}
	})
}

func TestCancelDiscardsPendingConfirmation(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{{ID: "1", Name: "Milk", Quantity: 1, Status: list.StatusOpen}}}
	oracle := &scriptedOracle{
		response: `{"intent": "REMOVE", "removeCriteria": {"itemNames": ["Milk"]}, "confirmation": {"required": true, "question": "Remove Milk?"}}`,
	}
	eng := newTestEngine(st, oracle)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng.ProcessTextCommand(context.Background(), "remove milk"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	eng.Cancel()

	state := eng.Snapshot()
	if state.Confirmation != nil {
		t.Error("confirmation not cleared on cancel")
	}
	if len(state.Items) != 1 {
		t.Errorf("cancel must not remove items, got %d", len(state.Items))
	}
	if len(st.deletes) != 0 {
		t.Errorf("cancel must not touch the store, got deletes %v", st.deletes)
	}
}

func TestProcessTextCommandRemoveWithoutConfirmation(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{
		{ID: "1", Name: "Milk", Quantity: 1, Status: list.StatusOpen},
		{ID: "2", Name: "Bread", Quantity: 1, Status: list.StatusOpen},
	}}
	oracle := &scriptedOracle{
		response: `{"intent": "REMOVE", "removeCriteria": {"itemNames": ["milk"]}}`,
	}
	eng := newTestEngine(st, oracle)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.ProcessTextCommand(context.Background(), "remove milk"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	state := eng.Snapshot()
	if len(state.Items) != 1 || state.Items[0].Name != "Bread" {
		t.Errorf("expected Milk removed immediately, got %+v", state.Items)
	}
	if len(st.deletes) != 1 || st.deletes[0] != "1" {
		t.Errorf("expected remote delete of item 1, got %v", st.deletes)
	}
}

func TestBulkRemoveRollsBackWhenAnyDeleteFails(t *testing.T) {
	st := &fakeItemStore{
		failDelete: true,
		items: []list.Item{
			{ID: "1", Name: "Milk", Quantity: 1, Status: list.StatusOpen},
			{ID: "2", Name: "Yogurt", Quantity: 4, Status: list.StatusOpen},
		},
	}
	oracle := &scriptedOracle{
		response: `{"intent": "REMOVE", "removeCriteria": {"itemNames": ["Milk", "Yogurt"]}}`,
	}
	eng := newTestEngine(st, oracle)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.ProcessTextCommand(context.Background(), "remove dairy"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	if n := len(eng.Snapshot().Items); n != 2 {
		t.Errorf("expected both items restored after failed batch, got %d", n)
	}
}

func TestUpdateCommandQuantityFloorRemovesItem(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{{ID: "1", Name: "Eggs", Quantity: 1, Unit: "pcs", Status: list.StatusOpen}}}
	oracle := &scriptedOracle{
		response: `{"intent": "UPDATE", "items": [{"itemName": "eggs", "quantity": 2, "updateType": "RELATIVE_DECREASE"}]}`,
	}
	eng := newTestEngine(st, oracle)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.ProcessTextCommand(context.Background(), "two eggs fewer"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	if n := len(eng.Snapshot().Items); n != 0 {
		t.Errorf("expected item removed when quantity drops to zero or below, got %d items", n)
	}
	if len(st.deletes) != 1 || st.deletes[0] != "1" {
		t.Errorf("expected remote delete, got %v", st.deletes)
	}
}

func TestUpdateCommandDefaultsToRelativeIncrease(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{{ID: "1", Name: "Milk", Quantity: 2, Unit: "L", Status: list.StatusOpen}}}
	oracle := &scriptedOracle{
		response: `{"intent": "UPDATE", "items": [{"itemName": "Milk", "quantity": 1}]}`,
	}
	eng := newTestEngine(st, oracle)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.ProcessTextCommand(context.Background(), "one more milk"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	got, ok := eng.Snapshot().FindItem("1")
	if !ok || got.Quantity != 3 {
		t.Errorf("expected quantity 3 after default relative increase, got %+v", got)
	}
}

func TestUpdateCommandUnknownItemBecomesAdd(t *testing.T) {
	st := &fakeItemStore{}
	oracle := &scriptedOracle{
		response: `{"intent": "UPDATE", "items": [{"itemName": "Butter", "quantity": 1}]}`,
	}
	eng := newTestEngine(st, oracle)

	if err := eng.ProcessTextCommand(context.Background(), "more butter"); err != nil {
		t.Fatalf("ProcessTextCommand failed: %v", err)
	}

	state := eng.Snapshot()
	if len(state.Items) != 1 || state.Items[0].Name != "Butter" {
		t.Errorf("expected implicit add of Butter, got %+v", state.Items)
	}
}

func TestSyncUpdateItemRollsBackOnFailure(t *testing.T) {
	st := &fakeItemStore{
		failUpdate: true,
		items:      []list.Item{{ID: "x", Name: "Milk", Quantity: 5, Unit: "L", Status: list.StatusOpen}},
	}
	eng := newTestEngine(st, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	seven := 7
	if err := eng.SyncUpdateItem(context.Background(), "x", list.ItemPatch{Quantity: &seven}); err != nil {
		t.Fatalf("falsy update result must not surface an error, got %v", err)
	}

	got, _ := eng.Snapshot().FindItem("x")
	if got.Quantity != 5 {
		t.Errorf("expected rollback to quantity 5, got %d", got.Quantity)
	}
}

func TestSyncRemoveItemRollsBackOnFailure(t *testing.T) {
	st := &fakeItemStore{
		failDelete: true,
		items:      []list.Item{{ID: "x", Name: "Milk", Quantity: 1, Status: list.StatusOpen}},
	}
	eng := newTestEngine(st, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.SyncRemoveItem(context.Background(), "x"); err != nil {
		t.Fatalf("falsy delete result must not surface an error, got %v", err)
	}

	if _, ok := eng.Snapshot().FindItem("x"); !ok {
		t.Error("expected removed item restored after failed delete")
	}
}

func TestIngestInsertSkipsKnownIDs(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{{ID: "1", Name: "Milk", Quantity: 1, Status: list.StatusOpen}}}
	eng := newTestEngine(st, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Echo of an item we already hold: ignored.
	st.handlers.OnInsert(list.Item{ID: "1", Name: "Milk", Quantity: 1, Status: list.StatusOpen})
	if n := len(eng.Snapshot().Items); n != 1 {
		t.Errorf("echoed insert duplicated the item: %d items", n)
	}

	// A genuinely new remote item: applied.
	st.handlers.OnInsert(list.Item{ID: "2", Name: "Eggs", Quantity: 6, Status: list.StatusOpen})
	if n := len(eng.Snapshot().Items); n != 2 {
		t.Errorf("expected remote insert applied, got %d items", n)
	}
}

func TestIngestDeleteIsIdempotent(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{{ID: "1", Name: "Milk", Quantity: 1, Status: list.StatusOpen}}}
	eng := newTestEngine(st, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.SyncRemoveItem(context.Background(), "1"); err != nil {
		t.Fatalf("SyncRemoveItem failed: %v", err)
	}
	// The remote delete comes back around on the change feed.
	st.handlers.OnDelete("1")

	if n := len(eng.Snapshot().Items); n != 0 {
		t.Errorf("expected empty list after removal plus echo, got %d items", n)
	}
}

func TestIngestUpdateLastWriteWins(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{{ID: "1", Name: "Milk", Quantity: 1, Unit: "L", Status: list.StatusOpen}}}
	eng := newTestEngine(st, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st.handlers.OnUpdate(list.Item{ID: "1", Name: "Milk", Quantity: 9, Unit: "L", Status: list.StatusOpen})

	got, _ := eng.Snapshot().FindItem("1")
	if got.Quantity != 9 {
		t.Errorf("expected pushed update to win, got quantity %d", got.Quantity)
	}
}

func TestApplySortPriority(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{
		{ID: "1", Name: "Milk", Priority: list.PriorityLow, Status: list.StatusOpen},
		{ID: "2", Name: "Bread", Priority: list.PriorityHigh, Status: list.StatusOpen},
		{ID: "3", Name: "Eggs", Priority: list.PriorityMedium, Status: list.StatusOpen},
	}}
	eng := newTestEngine(st, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.ApplySort(context.Background(), list.SortPriority); err != nil {
		t.Fatalf("ApplySort failed: %v", err)
	}

	state := eng.Snapshot()
	want := []string{"2", "3", "1"}
	for i, id := range want {
		if state.Items[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, state.Items[i].ID)
		}
	}
	if state.Sort != list.SortPriority {
		t.Errorf("sort type not recorded: %s", state.Sort)
	}
}

func TestApplySortOracleFailureLeavesOrder(t *testing.T) {
	st := &fakeItemStore{items: []list.Item{
		{ID: "2", Name: "Bread", Status: list.StatusOpen},
		{ID: "1", Name: "Milk", Status: list.StatusOpen},
	}}
	oracle := &scriptedOracle{err: fmt.Errorf("rate limited")}
	eng := newTestEngine(st, oracle)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.ApplySort(context.Background(), list.SortLocation); err == nil {
		t.Fatal("expected sort oracle failure to surface")
	}

	state := eng.Snapshot()
	if state.Items[0].ID != "2" || state.Items[1].ID != "1" {
		t.Errorf("order must be untouched on oracle failure, got %+v", state.Items)
	}
	if state.Loading {
		t.Error("loading flag left set after failed sort")
	}
}
