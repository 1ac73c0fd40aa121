package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shoplist/internal/list"
	"shoplist/internal/shared"
)

const (
	contextSortPrompt  = "Group these shopping items into logical clusters for a shopping trip (e.g., 'For dinner', 'Breakfast', 'Household'). Items: [%s]. Return a single JSON object where keys are cluster names and values are arrays of the item names."
	locationSortPrompt = "Group these shopping items by their typical department in a supermarket (e.g., 'Produce', 'Dairy & Eggs', 'Bakery'). Items: [%s]. Return a single JSON object where keys are department names and values are arrays of the item names."
)

// SmartSort asks the oracle to group the open items and returns the reordered
// list plus the groups. Purchased items always trail the open ones; open
// items the oracle did not mention keep their original relative order. On
// oracle failure the error is returned and no ordering is applied.
func (i *Interpreter) SmartSort(ctx context.Context, items []list.Item, sortType list.SortType) ([]list.Item, list.SortGroups, shared.AgentMeta, error) {
	start := time.Now()
	meta := shared.AgentMeta{AgentName: "Sorter"}

	var open, purchased []list.Item
	for _, item := range items {
		if item.Status == list.StatusPurchased {
			purchased = append(purchased, item)
		} else {
			open = append(open, item)
		}
	}
	if len(open) == 0 {
		return purchased, list.SortGroups{}, meta, nil
	}

	names := make([]string, len(open))
	for idx, item := range open {
		names[idx] = item.Name
	}

	var prompt string
	switch sortType {
	case list.SortContext:
		prompt = fmt.Sprintf(contextSortPrompt, strings.Join(names, ", "))
	case list.SortLocation:
		prompt = fmt.Sprintf(locationSortPrompt, strings.Join(names, ", "))
	default:
		return items, list.SortGroups{}, meta, nil
	}

	resp, err := i.textGen.GenerateContent(ctx, prompt)
	meta.Usage = resp.Usage
	meta.Latency = time.Since(start)
	if err != nil {
		return nil, nil, meta, fmt.Errorf("sort oracle call failed: %w", err)
	}

	// The oracle's group order is meaningful, so the object is decoded key
	// by key instead of into a map.
	groupNames, groups, err := parseOrderedGroups(resp.Content)
	if err != nil {
		return nil, nil, meta, fmt.Errorf("failed to parse sort response: %w", err)
	}

	byName := make(map[string]list.Item, len(open))
	order := make([]string, 0, len(open))
	for _, item := range open {
		key := strings.ToLower(item.Name)
		byName[key] = item
		order = append(order, key)
	}

	sorted := make([]list.Item, 0, len(items))
	for _, group := range groupNames {
		for _, name := range groups[group] {
			key := strings.ToLower(name)
			if item, ok := byName[key]; ok {
				sorted = append(sorted, item)
				delete(byName, key)
			}
		}
	}

	// Items the oracle skipped are appended in their original order.
	for _, key := range order {
		if item, ok := byName[key]; ok {
			sorted = append(sorted, item)
		}
	}
	sorted = append(sorted, purchased...)

	return sorted, groups, meta, nil
}

func parseOrderedGroups(raw string) ([]string, list.SortGroups, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var names []string
	groups := list.SortGroups{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected an object key, got %v", keyTok)
		}
		var members []string
		if err := dec.Decode(&members); err != nil {
			return nil, nil, err
		}
		names = append(names, key)
		groups[key] = members
	}
	return names, groups, nil
}
