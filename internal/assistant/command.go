package assistant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"thebox/internal/core"
)

const (
	ActionAddTransaction Action = "add_tx"
	ActionAddRecurring   Action = "add_rec"
)

const fallbackCategory = "Outros"

type Action string

// Command is the model's structured reading of a sentence. Field names follow
// the JSON the prompt asks for.
type Command struct {
	Action      Action          `json:"action"`
	Type        core.TxType     `json:"tipo,omitempty"`
	Description string          `json:"desc"`
	Amount      decimal.Decimal `json:"val"`
	Category    string          `json:"cat,omitempty"`
	Date        string          `json:"data,omitempty"`
	Day         flexInt         `json:"dia,omitempty"`
}

// flexInt accepts 5 and "5".
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(string(b))
	if err != nil {
		f, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return fmt.Errorf("invalid day %q", b)
		}
		v = int(f)
	}
	*n = flexInt(v)
	return nil
}

// decodeCommand parses the model reply, tolerating markdown fences.
func decodeCommand(text string) (Command, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		text = text[i : j+1]
	}
	var cmd Command
	if err := json.Unmarshal([]byte(text), &cmd); err != nil {
		return Command{}, &core.ValidationError{Field: "assistant reply", Reason: err.Error()}
	}
	switch cmd.Action {
	case ActionAddTransaction, ActionAddRecurring:
	default:
		return Command{}, &core.ValidationError{Field: "action", Reason: fmt.Sprintf("unsupported action %q", cmd.Action)}
	}
	return cmd, nil
}

// Draft turns an add_tx command into a transaction draft. A missing date
// means today; the category is snapped onto categories.
func (c Command) Draft(categories []string, today core.Date) (core.Draft, error) {
	if c.Action != ActionAddTransaction {
		return core.Draft{}, &core.ValidationError{Field: "action", Reason: "not a transaction"}
	}
	date := today
	if strings.TrimSpace(c.Date) != "" {
		d, err := core.ParseDate(c.Date)
		if err != nil {
			return core.Draft{}, err
		}
		date = d
	}
	d := core.Draft{
		Type:        core.TxType(strings.ToLower(string(c.Type))),
		Category:    SnapCategory(c.Category, categories),
		Description: strings.TrimSpace(c.Description),
		Amount:      c.Amount.Round(2),
		Date:        date,
	}
	return d, d.Validate()
}

// SnapCategory returns the category closest to name by edit distance,
// ignoring case. An empty name maps to "Outros" when it exists.
func SnapCategory(name string, categories []string) string {
	name = strings.TrimSpace(name)
	if len(categories) == 0 {
		if name == "" {
			return fallbackCategory
		}
		return name
	}
	if name == "" {
		for _, c := range categories {
			if strings.EqualFold(c, fallbackCategory) {
				return c
			}
		}
		return categories[len(categories)-1]
	}

	needle := strings.ToLower(name)
	best, bestDist := categories[0], -1
	for _, c := range categories {
		hay := strings.ToLower(c)
		if hay == needle {
			return c
		}
		dist := levenshtein.ComputeDistance(needle, hay)
		if strings.HasPrefix(hay, needle) || strings.HasPrefix(needle, hay) {
			dist = abs(utf8.RuneCountInString(hay) - utf8.RuneCountInString(needle))
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
