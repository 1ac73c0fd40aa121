// Package command turns free text into structured list mutations by way of
// an external language-model oracle. The oracle is treated as unreliable:
// every failure path degrades to a deterministic result instead of an error
// reaching the user.
package command

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"shoplist/internal/list"
	"shoplist/internal/llm"
	"shoplist/internal/shared"
)

//go:embed command_prompt.md
var commandPrompt string

// Intent is the oracle's classification of a command.
type Intent string

const (
	IntentAdd    Intent = "ADD"
	IntentRemove Intent = "REMOVE"
	IntentUpdate Intent = "UPDATE"
	IntentNoop   Intent = "NOOP"
)

// UpdateType says how a quantity in an UPDATE command applies.
type UpdateType string

const (
	UpdateAbsolute         UpdateType = "ABSOLUTE"
	UpdateRelativeIncrease UpdateType = "RELATIVE_INCREASE"
	UpdateRelativeDecrease UpdateType = "RELATIVE_DECREASE"
)

// ParsedItem is one item as understood by the oracle. Quantity is a pointer
// because "no quantity mentioned" and "quantity zero" mean different things
// to an UPDATE command.
type ParsedItem struct {
	ItemName   string     `json:"itemName"`
	Quantity   *float64   `json:"quantity,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	UpdateType UpdateType `json:"updateType,omitempty"`
}

// RemoveCriteria names the items a REMOVE command targets.
type RemoveCriteria struct {
	ItemNames []string `json:"itemNames"`
}

// Confirmation flags a command as needing user sign-off before it runs.
type Confirmation struct {
	Required bool   `json:"required"`
	Question string `json:"question"`
}

// Command is the structured form of one user utterance.
type Command struct {
	Intent         Intent          `json:"intent"`
	Items          []ParsedItem    `json:"items,omitempty"`
	RemoveCriteria *RemoveCriteria `json:"removeCriteria,omitempty"`
	Confirmation   *Confirmation   `json:"confirmation,omitempty"`
}

// Interpreter asks the oracle to classify free text against the current list.
type Interpreter struct {
	textGen llm.TextGenerator
}

// NewInterpreter creates an Interpreter over the given text generator.
func NewInterpreter(textGen llm.TextGenerator) *Interpreter {
	return &Interpreter{textGen: textGen}
}

// Interpret converts free text into a Command. Oracle or parse failures fall
// back to a literal ADD of the raw text so user input is never dropped.
func (i *Interpreter) Interpret(ctx context.Context, text string, current []list.Item) (Command, shared.AgentMeta) {
	start := time.Now()
	meta := shared.AgentMeta{AgentName: "Interpreter"}

	prompt, err := buildCommandPrompt(text, current)
	if err != nil {
		log.Printf("Failed to build command prompt: %v", err)
		return literalAdd(text), meta
	}

	resp, err := i.textGen.GenerateContent(ctx, prompt)
	meta.Usage = resp.Usage
	meta.Latency = time.Since(start)
	if err != nil {
		log.Printf("Oracle call failed, falling back to literal add: %v", err)
		return literalAdd(text), meta
	}

	var cmd Command
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &cmd); err != nil {
		log.Printf("Unparseable oracle response, falling back to literal add: %v", err)
		return literalAdd(text), meta
	}
	if cmd.Intent == "" {
		cmd.Intent = IntentNoop
	}
	return cmd, meta
}

func literalAdd(text string) Command {
	one := 1.0
	return Command{
		Intent: IntentAdd,
		Items:  []ParsedItem{{ItemName: text, Quantity: &one, Unit: "pcs"}},
	}
}

func buildCommandPrompt(text string, current []list.Item) (string, error) {
	tmpl, err := template.New("Command").Parse(commandPrompt)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		ListContext string
		Text        string
	}{
		ListContext: renderListContext(current),
		Text:        text,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderListContext(items []list.Item) string {
	if len(items) == 0 {
		return "The user's shopping list is currently empty."
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%d %s of %s", item.Quantity, item.Unit, item.Name))
	}
	return fmt.Sprintf("The user's current shopping list is: [%s].", strings.Join(parts, ", "))
}
