// Package clipper turns a recipe or article URL into shopping list entries:
// fetch the page, strip it down to text, and have the oracle pull out the
// ingredient lines.
package clipper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"shoplist/internal/list"
	"shoplist/internal/llm"
	"shoplist/internal/shared"
)

// Clipper extracts shopping items from web pages.
type Clipper struct {
	httpClient *http.Client
	textGen    llm.TextGenerator
}

// ExtractedItem is one ingredient line as structured by the oracle.
type ExtractedItem struct {
	ItemName string  `json:"itemName"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// ExtractedList is the oracle's reading of one page.
type ExtractedList struct {
	Title string          `json:"title"`
	Items []ExtractedItem `json:"items"`
}

// NewClipper creates a Clipper backed by the given text generator.
func NewClipper(textGen llm.TextGenerator) *Clipper {
	return &Clipper{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		textGen:    textGen,
	}
}

// ClipURL fetches the URL and extracts its ingredient list as item drafts
// ready for the sync engine.
func (c *Clipper) ClipURL(ctx context.Context, url string) (string, []list.ItemDraft, shared.AgentMeta, error) {
	meta := shared.AgentMeta{AgentName: "web-clipper"}

	content, err := c.fetchAndCleanHTML(url)
	if err != nil {
		return "", nil, meta, fmt.Errorf("failed to fetch content: %w", err)
	}

	prompt := fmt.Sprintf(`
You are an ingredient extraction expert. Extract the ingredient list from the following page content.
Return the result strictly as a JSON object with this structure:
{
  "title": "Page or recipe title",
  "items": [{"itemName": "Flour", "quantity": 500, "unit": "g"}, ...]
}
Use quantity 1 and unit "pcs" when the page does not specify them.
Ignore instructions, equipment, and serving suggestions.

Page content:
%s
`, content)

	start := time.Now()
	resp, err := c.textGen.GenerateContent(ctx, prompt)
	meta.Latency = time.Since(start)
	meta.Usage = resp.Usage
	if err != nil {
		return "", nil, meta, fmt.Errorf("extraction failed: %w", err)
	}

	var extracted ExtractedList
	if err := json.Unmarshal([]byte(resp.Content), &extracted); err != nil {
		return "", nil, meta, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	return extracted.Title, toDrafts(extracted.Items), meta, nil
}

func (c *Clipper) fetchAndCleanHTML(url string) (string, error) {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// Remove noise to save oracle tokens.
	doc.Find("script, style, nav, footer, iframe, ads, .ads, #ads").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text(), nil
}

func toDrafts(items []ExtractedItem) []list.ItemDraft {
	var drafts []list.ItemDraft
	for _, item := range items {
		if item.ItemName == "" {
			continue
		}
		quantity := int(math.Round(item.Quantity))
		if quantity <= 0 {
			quantity = 1
		}
		unit := item.Unit
		if unit == "" {
			unit = "pcs"
		}
		drafts = append(drafts, list.ItemDraft{
			Name:     item.ItemName,
			Quantity: quantity,
			Unit:     unit,
			Priority: list.PriorityNone,
			Status:   list.StatusOpen,
		})
	}
	return drafts
}
