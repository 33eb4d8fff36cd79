package core

import "strings"

// MatchOperator is the comparison applied by a GroupMatcher.
type MatchOperator string

const (
	MatchEquals     MatchOperator = "EQUALS"
	MatchStartsWith MatchOperator = "STARTS_WITH"
	MatchEndsWith   MatchOperator = "ENDS_WITH"
	MatchContains   MatchOperator = "CONTAINS"
	MatchAnything   MatchOperator = "ANYTHING"
)

// GroupMatcher selects keys by their group.
type GroupMatcher struct {
	Operator MatchOperator `json:"operator"`
	Value    string        `json:"value,omitempty"`
}

func GroupEquals(group string) GroupMatcher { return GroupMatcher{MatchEquals, group} }
func GroupStartsWith(p string) GroupMatcher  { return GroupMatcher{MatchStartsWith, p} }
func GroupEndsWith(s string) GroupMatcher    { return GroupMatcher{MatchEndsWith, s} }
func GroupContains(s string) GroupMatcher    { return GroupMatcher{MatchContains, s} }
func AnyGroup() GroupMatcher                 { return GroupMatcher{Operator: MatchAnything} }

// Matches reports whether group satisfies the matcher.
func (m GroupMatcher) Matches(group string) bool {
	switch m.Operator {
	case MatchEquals:
		return group == m.Value
	case MatchStartsWith:
		return strings.HasPrefix(group, m.Value)
	case MatchEndsWith:
		return strings.HasSuffix(group, m.Value)
	case MatchContains:
		return strings.Contains(group, m.Value)
	case MatchAnything:
		return true
	}
	return false
}

// ParseMatchOperator accepts the operator names case-insensitively.
// An empty string means MatchAnything.
func ParseMatchOperator(s string) (MatchOperator, bool) {
	if s == "" {
		return MatchAnything, true
	}
	switch op := MatchOperator(strings.ToUpper(s)); op {
	case MatchEquals, MatchStartsWith, MatchEndsWith, MatchContains, MatchAnything:
		return op, true
	}
	return "", false
}
