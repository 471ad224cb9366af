package feature

import (
	"slices"
	"strings"

	"github.com/paulmach/osm"

	"github.com/matzehuels/tilecraft/pkg/errors"
)

// Wildcard is the rule value that matches any value of the rule's key.
// AnyValue is accepted as a spelled-out alias.
const (
	Wildcard = "*"
	AnyValue = "any"
)

// IsWildcard reports whether v matches on key presence alone.
func IsWildcard(v string) bool {
	return v == Wildcard || v == AnyValue
}

// Rule is a single (key, value-or-wildcard) tag test.
type Rule struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseRule parses "key=value" or "key". A bare key, or the value "any",
// is a wildcard rule.
func ParseRule(s string) (Rule, error) {
	if err := errors.ValidateTagRule(s); err != nil {
		return Rule{}, err
	}
	key, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || value == "" || IsWildcard(value) {
		value = Wildcard
	}
	return Rule{Key: key, Value: value}, nil
}

// String formats the rule the way ParseRule reads it.
func (r Rule) String() string {
	if IsWildcard(r.Value) {
		return r.Key
	}
	return r.Key + "=" + r.Value
}

// Matches reports whether a single tag satisfies the rule.
// Comparison is exact and case-sensitive.
func (r Rule) Matches(key, value string) bool {
	return r.Key == key && (IsWildcard(r.Value) || r.Value == value)
}

// Category is a named class of features defined by tag rules.
// A category matches an entity when any of its rules matches any of the
// entity's tags. Rule order carries no meaning.
type Category struct {
	Name  string `json:"name"`
	Group string `json:"group,omitempty"`
	Rules []Rule `json:"rules"`
}

// NewCategory returns a category with rules deduplicated and sorted so that
// equal rule sets always fingerprint the same.
func NewCategory(name, group string, rules ...Rule) Category {
	c := Category{Name: name, Group: group}
	return c.WithRules(rules...)
}

// WithRules returns a copy of c with extra rules added.
func (c Category) WithRules(rules ...Rule) Category {
	merged := make([]Rule, 0, len(c.Rules)+len(rules))
	merged = append(merged, c.Rules...)
	merged = append(merged, rules...)
	slices.SortFunc(merged, func(a, b Rule) int {
		if n := strings.Compare(a.Key, b.Key); n != 0 {
			return n
		}
		return strings.Compare(a.Value, b.Value)
	})
	c.Rules = slices.Compact(merged)
	return c
}

// Validate checks the category name and that it carries at least one rule.
func (c Category) Validate() error {
	if err := errors.ValidateCategoryName(c.Name); err != nil {
		return err
	}
	if len(c.Rules) == 0 {
		return errors.New(errors.ErrCodeInvalidCategory, "category %q has no tag rules", c.Name)
	}
	for _, r := range c.Rules {
		if r.Key == "" {
			return errors.New(errors.ErrCodeInvalidCategory, "category %q has a rule with an empty key", c.Name)
		}
	}
	return nil
}

// Matches reports whether the tag set belongs to category c.
func Matches(c Category, tags osm.Tags) bool {
	for _, t := range tags {
		for _, r := range c.Rules {
			if r.Matches(t.Key, t.Value) {
				return true
			}
		}
	}
	return false
}

// Table evaluates many categories against one tag set in a single lookup per
// tag. It is built once per extraction and is safe for concurrent reads.
type Table struct {
	categories []Category
	byKey      map[string][]tableEntry
}

type tableEntry struct {
	category int
	value    string
}

// NewTable compiles categories into a lookup table.
func NewTable(categories []Category) *Table {
	t := &Table{
		categories: categories,
		byKey:      make(map[string][]tableEntry),
	}
	for i, c := range categories {
		for _, r := range c.Rules {
			t.byKey[r.Key] = append(t.byKey[r.Key], tableEntry{category: i, value: r.Value})
		}
	}
	return t
}

// Categories returns the categories the table was built from.
func (t *Table) Categories() []Category {
	return t.categories
}

// Match returns the indexes of all categories matching tags, ascending and
// without duplicates. buf is reused when it has capacity.
func (t *Table) Match(tags osm.Tags, buf []int) []int {
	out := buf[:0]
	if len(tags) == 0 {
		return out
	}
	for _, tag := range tags {
		for _, e := range t.byKey[tag.Key] {
			if IsWildcard(e.value) || e.value == tag.Value {
				out = append(out, e.category)
			}
		}
	}
	if len(out) > 1 {
		slices.Sort(out)
		out = slices.Compact(out)
	}
	return out
}
