package datacache

import (
	"encoding/json"
	"strings"
)

// Mode selects how much of a dataset a response carries.
type Mode string

const (
	// ModeSummary returns counts and name lists only.
	ModeSummary Mode = "summary"
	// ModeFiltered returns items matching the caller's filter.
	ModeFiltered Mode = "filtered"
	// ModeFull returns the dataset as stored.
	ModeFull Mode = "full"
)

// DefaultTokenBudget caps the estimated size of any shaped response.
const DefaultTokenBudget = 10000

// Item is one named value inside a dataset group.
type Item struct {
	Name  string          `json:"name"`
	Mode  string          `json:"mode,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Group is a logical grouping of dataset items.
type Group struct {
	Name  string   `json:"name"`
	Modes []string `json:"modes,omitempty"`
	Items []Item   `json:"items"`
}

// Dataset is the structured payload extracted from the debugged
// application and cached by the Store.
type Dataset struct {
	Groups []Group `json:"groups"`
}

// Filter narrows a filtered response. All set fields must match.
type Filter struct {
	// Group matches the containing group name exactly.
	Group string `json:"group,omitempty"`
	// NameContains matches a case-insensitive substring of the item name.
	NameContains string `json:"nameContains,omitempty"`
	// Mode matches the item's mode identifier exactly.
	Mode string `json:"mode,omitempty"`
}

func (f Filter) matches(groupName string, it Item) bool {
	if f.Group != "" && f.Group != groupName {
		return false
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.Mode != "" && f.Mode != it.Mode {
		return false
	}
	return true
}

// GroupSummary is the summary-mode view of one group.
type GroupSummary struct {
	Name      string   `json:"name"`
	ItemCount int      `json:"itemCount"`
	ItemNames []string `json:"itemNames"`
	Modes     []string `json:"modes,omitempty"`
}

// Shaped is a size-bounded view of a dataset ready to return to a caller.
type Shaped struct {
	Mode Mode `json:"mode"`
	// Downgraded is set when the requested mode exceeded the token budget
	// and the response fell back to a summary.
	Downgraded bool           `json:"downgraded,omitempty"`
	Summary    []GroupSummary `json:"summary,omitempty"`
	Groups     []Group        `json:"groups,omitempty"`
}

// Shaper turns datasets into responses that fit under a token budget.
type Shaper struct {
	budget int
}

// NewShaper creates a Shaper. A non-positive budget uses the default.
func NewShaper(budget int) *Shaper {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	return &Shaper{budget: budget}
}

// Shape produces the requested view of ds. Whatever the requested mode,
// a result whose estimated size exceeds the budget is replaced by a
// summary with Downgraded set, so the caller never receives a payload it
// cannot consume.
func (s *Shaper) Shape(ds *Dataset, mode Mode, filter Filter) (*Shaped, error) {
	var out *Shaped
	switch mode {
	case ModeSummary:
		out = &Shaped{Mode: ModeSummary, Summary: summarize(ds)}
	case ModeFiltered:
		out = &Shaped{Mode: ModeFiltered, Groups: applyFilter(ds, filter)}
	case ModeFull:
		out = &Shaped{Mode: ModeFull, Groups: ds.Groups}
	default:
		return nil, &UnknownModeError{Mode: string(mode)}
	}

	if EstimateTokens(out) > s.budget && mode != ModeSummary {
		out = &Shaped{Mode: ModeSummary, Downgraded: true, Summary: summarize(ds)}
	}
	return out, nil
}

// UnknownModeError reports an unrecognized response mode.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return "unknown response mode: " + e.Mode
}

// EstimateTokens approximates the token cost of a value as a quarter of
// its serialized character count. Crude, but it only needs to catch
// responses that are far over budget.
func EstimateTokens(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b) / 4
}

func summarize(ds *Dataset) []GroupSummary {
	summaries := make([]GroupSummary, 0, len(ds.Groups))
	for _, g := range ds.Groups {
		names := make([]string, 0, len(g.Items))
		for _, it := range g.Items {
			names = append(names, it.Name)
		}
		summaries = append(summaries, GroupSummary{
			Name:      g.Name,
			ItemCount: len(g.Items),
			ItemNames: names,
			Modes:     g.Modes,
		})
	}
	return summaries
}

func applyFilter(ds *Dataset, filter Filter) []Group {
	out := make([]Group, 0, len(ds.Groups))
	for _, g := range ds.Groups {
		items := make([]Item, 0, len(g.Items))
		for _, it := range g.Items {
			if filter.matches(g.Name, it) {
				items = append(items, it)
			}
		}
		if len(items) > 0 {
			out = append(out, Group{Name: g.Name, Modes: g.Modes, Items: items})
		}
	}
	return out
}
