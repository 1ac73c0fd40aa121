package list

import (
	"testing"
)

func item(id, name string, qty int, status Status) Item {
	return Item{ID: id, Name: name, Quantity: qty, Unit: "pcs", Status: status}
}

func TestReduceAddItemMergesDuplicateNames(t *testing.T) {
	state := NewState()
	state = Reduce(state, AddItem{Item: item("1", "Milk", 1, StatusOpen)})
	state = Reduce(state, AddItem{Item: item("2", "milk", 2, StatusOpen)})

	if len(state.Items) != 1 {
		t.Fatalf("expected 1 item after merge, got %d", len(state.Items))
	}
	if state.Items[0].Name != "Milk" {
		t.Errorf("expected original name 'Milk' to survive, got '%s'", state.Items[0].Name)
	}
	if state.Items[0].Quantity != 3 {
		t.Errorf("expected merged quantity 3, got %d", state.Items[0].Quantity)
	}
}

func TestReduceAddItemDoesNotMergeIntoPurchased(t *testing.T) {
	state := NewState()
	state = Reduce(state, AddItem{Item: item("1", "Milk", 1, StatusPurchased)})
	state = Reduce(state, AddItem{Item: item("2", "Milk", 2, StatusOpen)})

	if len(state.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(state.Items))
	}
	// New items are prepended.
	if state.Items[0].ID != "2" {
		t.Errorf("expected new item first, got id '%s'", state.Items[0].ID)
	}
}

func TestReduceAddItemSynthesizesCatalogEntry(t *testing.T) {
	state := NewState()
	state = Reduce(state, AddItem{Item: item("1", "Dragonfruit", 1, StatusOpen)})

	if len(state.Catalog) != 1 {
		t.Fatalf("expected synthesized product, got %d products", len(state.Catalog))
	}
	if len(state.Aliases) != 1 {
		t.Fatalf("expected synthesized alias, got %d aliases", len(state.Aliases))
	}
	if state.Catalog[0].AliasID != state.Aliases[0].ID {
		t.Errorf("product alias id %q does not reference alias %q", state.Catalog[0].AliasID, state.Aliases[0].ID)
	}

	// Adding a known name again must not duplicate the catalog entry.
	state = Reduce(state, RemoveItem{ID: state.Items[0].ID})
	state = Reduce(state, AddItem{Item: item("2", "dragonfruit", 1, StatusOpen)})
	if len(state.Catalog) != 1 {
		t.Errorf("expected catalog unchanged, got %d products", len(state.Catalog))
	}
}

func TestReduceRemoveItemIsIdempotent(t *testing.T) {
	state := NewState()
	state = Reduce(state, SetItems{Items: []Item{item("1", "Milk", 1, StatusOpen), item("2", "Eggs", 6, StatusOpen)}})

	once := Reduce(state, RemoveItem{ID: "1"})
	twice := Reduce(once, RemoveItem{ID: "1"})

	if len(once.Items) != 1 || len(twice.Items) != 1 {
		t.Fatalf("expected 1 item after removals, got %d then %d", len(once.Items), len(twice.Items))
	}
	if twice.Items[0].ID != "2" {
		t.Errorf("expected remaining item '2', got '%s'", twice.Items[0].ID)
	}
}

func TestReduceUpdateItemMergesPatch(t *testing.T) {
	state := NewState()
	state = Reduce(state, SetItems{Items: []Item{item("1", "Milk", 1, StatusOpen)}})

	qty := 4
	prio := PriorityHigh
	state = Reduce(state, UpdateItem{ID: "1", Patch: ItemPatch{Quantity: &qty, Priority: &prio}})

	got, ok := state.FindItem("1")
	if !ok {
		t.Fatal("item disappeared after update")
	}
	if got.Quantity != 4 || got.Priority != PriorityHigh {
		t.Errorf("patch not applied: quantity=%d priority=%v", got.Quantity, got.Priority)
	}
	if got.Name != "Milk" || got.Unit != "pcs" {
		t.Errorf("untouched fields changed: name=%q unit=%q", got.Name, got.Unit)
	}
}

func TestReduceRemoveProductPrunesEmptyAlias(t *testing.T) {
	state := NewState()
	state.Aliases = []Alias{{ID: "a1", Name: "Dairy"}, {ID: "a2", Name: "Bread"}}
	state.Catalog = []Product{
		{ID: "p1", Name: "Milk", AliasID: "a1"},
		{ID: "p2", Name: "Yogurt", AliasID: "a1"},
		{ID: "p3", Name: "Baguette", AliasID: "a2"},
	}

	state = Reduce(state, RemoveProduct{ID: "p3"})
	if len(state.Aliases) != 1 || state.Aliases[0].ID != "a1" {
		t.Fatalf("expected alias a2 pruned, aliases=%v", state.Aliases)
	}

	state = Reduce(state, RemoveProduct{ID: "p1"})
	if len(state.Aliases) != 1 {
		t.Errorf("alias a1 still has a product and must survive, aliases=%v", state.Aliases)
	}
}

func TestReduceGroupProducts(t *testing.T) {
	base := NewState()
	base.Aliases = []Alias{{ID: "a1", Name: "Dairy"}, {ID: "a2", Name: "Misc"}}
	base.Catalog = []Product{
		{ID: "p1", Name: "Milk", AliasID: "a1"},
		{ID: "p2", Name: "Pickles", AliasID: "a2"},
	}

	t.Run("ExistingTargetMatchedCaseInsensitively", func(t *testing.T) {
		state := Reduce(base, GroupProducts{ProductIDs: []string{"p2"}, AliasName: "dairy"})
		for _, p := range state.Catalog {
			if p.AliasID != "a1" {
				t.Errorf("product %s not re-parented to a1: %s", p.ID, p.AliasID)
			}
		}
		// a2 lost its last product and must be pruned.
		if len(state.Aliases) != 1 || state.Aliases[0].ID != "a1" {
			t.Errorf("expected only alias a1, got %v", state.Aliases)
		}
	})

	t.Run("FreshTargetCreated", func(t *testing.T) {
		state := Reduce(base, GroupProducts{ProductIDs: []string{"p1", "p2"}, AliasName: "Everything"})
		if len(state.Aliases) != 1 {
			t.Fatalf("expected single fresh alias, got %v", state.Aliases)
		}
		if state.Aliases[0].Name != "Everything" {
			t.Errorf("expected alias 'Everything', got '%s'", state.Aliases[0].Name)
		}
		for _, p := range state.Catalog {
			if p.AliasID != state.Aliases[0].ID {
				t.Errorf("product %s not re-parented: %s", p.ID, p.AliasID)
			}
		}
	})

	t.Run("TargetNeverPruned", func(t *testing.T) {
		state := Reduce(base, GroupProducts{ProductIDs: []string{"p1"}, AliasName: "Dairy"})
		found := false
		for _, alias := range state.Aliases {
			if alias.ID == "a1" {
				found = true
			}
		}
		if !found {
			t.Errorf("target alias pruned: %v", state.Aliases)
		}
	})
}

func TestReduceConfirmationSinglePending(t *testing.T) {
	state := NewState()
	first := ConfirmationRequest{Question: "Remove Milk?", ItemIDs: []string{"1"}, Action: RemoveItems{IDs: []string{"1"}}}
	second := ConfirmationRequest{Question: "Remove Eggs?", ItemIDs: []string{"2"}, Action: RemoveItems{IDs: []string{"2"}}}

	state = Reduce(state, RequestConfirmation{Request: first})
	state = Reduce(state, RequestConfirmation{Request: second})

	if state.Confirmation == nil {
		t.Fatal("expected a pending confirmation")
	}
	if state.Confirmation.Question != "Remove Eggs?" {
		t.Errorf("expected newest request to win, got '%s'", state.Confirmation.Question)
	}

	state = Reduce(state, ClearConfirmation{})
	if state.Confirmation != nil {
		t.Error("expected confirmation cleared")
	}
	state = Reduce(state, ClearConfirmation{})
	if state.Confirmation != nil {
		t.Error("clearing twice must stay idle")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	state := NewState()
	state = Reduce(state, SetItems{Items: []Item{item("1", "Milk", 1, StatusOpen)}})

	next := Reduce(state, UpdateItemQuantity{ID: "1", Quantity: 9})
	if state.Items[0].Quantity != 1 {
		t.Errorf("input state mutated: quantity=%d", state.Items[0].Quantity)
	}
	if next.Items[0].Quantity != 9 {
		t.Errorf("next state missing update: quantity=%d", next.Items[0].Quantity)
	}
}
