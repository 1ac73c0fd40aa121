package telegram

import (
	"strings"
	"testing"

	"shoplist/internal/list"
)

func TestFormatItems(t *testing.T) {
	state := list.NewState()
	state.Items = []list.Item{
		{ID: "1", Name: "Milk", Quantity: 2, Unit: "L", Priority: list.PriorityHigh, Status: list.StatusOpen},
		{ID: "2", Name: "Bread", Quantity: 1, Unit: "loaf", Status: list.StatusOpen},
		{ID: "3", Name: "Eggs", Quantity: 6, Unit: "pcs", Status: list.StatusPurchased},
	}

	output := formatItems(state)

	if !strings.Contains(output, "🛒 *Shopping List*") {
		t.Error("Missing list header")
	}
	if !strings.Contains(output, "• 2 L Milk (High)") {
		t.Error("Missing prioritized item line")
	}
	if !strings.Contains(output, "• 1 loaf Bread\n") {
		t.Error("Missing plain item line")
	}
	if !strings.Contains(output, "~6 pcs Eggs~") {
		t.Error("Purchased item must be struck through")
	}
}

func TestFormatItemsEmpty(t *testing.T) {
	output := formatItems(list.NewState())
	if !strings.Contains(output, "empty") {
		t.Errorf("unexpected empty-list output: %s", output)
	}
}

func TestFormatSortedGroups(t *testing.T) {
	state := list.NewState()
	state.Items = []list.Item{
		{ID: "1", Name: "Milk", Quantity: 1, Unit: "L", Status: list.StatusOpen},
		{ID: "2", Name: "Yogurt", Quantity: 4, Unit: "pcs", Status: list.StatusOpen},
		{ID: "3", Name: "Bread", Quantity: 1, Unit: "loaf", Status: list.StatusOpen},
		{ID: "4", Name: "Eggs", Quantity: 6, Unit: "pcs", Status: list.StatusPurchased},
	}
	state.SortGroups = list.SortGroups{
		"Dairy":  {"Milk", "Yogurt"},
		"Bakery": {"Bread"},
	}

	output := formatSorted(state)

	if !strings.Contains(output, "*Dairy*") || !strings.Contains(output, "*Bakery*") {
		t.Errorf("missing group headers:\n%s", output)
	}
	// Group order follows item order, not map order.
	if strings.Index(output, "*Dairy*") > strings.Index(output, "*Bakery*") {
		t.Errorf("groups out of order:\n%s", output)
	}
	if !strings.Contains(output, "*Other*") || !strings.Contains(output, "~6 pcs Eggs~") {
		t.Errorf("purchased item must land in Other:\n%s", output)
	}
}

func TestFormatSortedWithoutGroupsFallsBack(t *testing.T) {
	state := list.NewState()
	state.Items = []list.Item{{ID: "1", Name: "Milk", Quantity: 1, Unit: "L", Status: list.StatusOpen}}

	if formatSorted(state) != formatItems(state) {
		t.Error("ungrouped state must render the flat view")
	}
}
