package store

import (
	"context"
	"errors"
	"iter"
	"sort"
	"strings"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Op is a comparison used in a scan filter.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpBeginsWith
	OpEndsWith
	OpContains
	OpExists
	OpNotExists
)

// Condition compares one attribute of an item with a value. Ordering and
// string operators are false for absent attributes; OpNe is true.
type Condition struct {
	Attr  string
	Op    Op
	Value any
}

func Eq(attr string, v any) Condition         { return Condition{attr, OpEq, v} }
func Ne(attr string, v any) Condition         { return Condition{attr, OpNe, v} }
func Lt(attr string, v any) Condition         { return Condition{attr, OpLt, v} }
func Le(attr string, v any) Condition         { return Condition{attr, OpLe, v} }
func Gt(attr string, v any) Condition         { return Condition{attr, OpGt, v} }
func Ge(attr string, v any) Condition         { return Condition{attr, OpGe, v} }
func BeginsWith(attr, prefix string) Condition { return Condition{attr, OpBeginsWith, prefix} }
func EndsWith(attr, suffix string) Condition   { return Condition{attr, OpEndsWith, suffix} }
func Contains(attr, sub string) Condition      { return Condition{attr, OpContains, sub} }
func Exists(attr string) Condition             { return Condition{Attr: attr, Op: OpExists} }
func NotExists(attr string) Condition          { return Condition{Attr: attr, Op: OpNotExists} }

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Condition

// GroupFilter translates a group matcher into a filter on the group attribute.
func GroupFilter(m core.GroupMatcher) Filter {
	switch m.Operator {
	case core.MatchEquals:
		return Filter{Eq(codec.AttrGroup, m.Value)}
	case core.MatchStartsWith:
		return Filter{BeginsWith(codec.AttrGroup, m.Value)}
	case core.MatchEndsWith:
		return Filter{EndsWith(codec.AttrGroup, m.Value)}
	case core.MatchContains:
		return Filter{Contains(codec.AttrGroup, m.Value)}
	}
	return nil
}

// Match reports whether it satisfies every condition.
func (f Filter) Match(it codec.Item) bool {
	for _, c := range f {
		if !c.match(it) {
			return false
		}
	}
	return true
}

func (c Condition) match(it codec.Item) bool {
	v, ok := it[c.Attr]
	switch c.Op {
	case OpExists:
		return ok
	case OpNotExists:
		return !ok
	case OpNe:
		return !ok || !equal(v, c.Value)
	}
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return equal(v, c.Value)
	case OpLt, OpLe, OpGt, OpGe:
		cmp, ok := compare(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpBeginsWith, OpEndsWith, OpContains:
		s, ok1 := v.(string)
		p, ok2 := c.Value.(string)
		if !ok1 || !ok2 {
			return false
		}
		switch c.Op {
		case OpBeginsWith:
			return strings.HasPrefix(s, p)
		case OpEndsWith:
			return strings.HasSuffix(s, p)
		default:
			return strings.Contains(s, p)
		}
	}
	return false
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return a == b
}

// compare orders numbers and strings. ok is false for mixed or other types.
func compare(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Record is an item together with its logical key.
type Record struct {
	Key  string
	Item codec.Item
}

// Page is one step of a scan. Next is empty when the scan is finished.
type Page struct {
	Records []Record
	Next    string
}

// Scan reads up to limit matching items starting after the continuation
// token. Each page lists the keys afresh, so items written or removed
// while a scan is in progress may be missed or seen twice.
func (c *Collection) Scan(ctx context.Context, filter Filter, token string, limit int) (Page, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return Page{}, err
	}
	start := 0
	if token != "" {
		start = sort.SearchStrings(keys, token)
		if start < len(keys) && keys[start] == token {
			start++
		}
	}

	var page Page
	for i := start; i < len(keys); i++ {
		if limit > 0 && i-start >= limit {
			page.Next = keys[i-1]
			break
		}
		it, ok, err := c.Get(ctx, keys[i])
		if err != nil {
			if errors.Is(err, core.ErrDecode) {
				c.logger.Warn("skipping undecodable item", "key", keys[i], "error", err)
				continue
			}
			return Page{}, err
		}
		if !ok || !filter.Match(it) {
			continue
		}
		page.Records = append(page.Records, Record{Key: keys[i], Item: it})
	}
	return page, nil
}

// All iterates over every matching item, following continuation tokens
// until the scan is exhausted. Iteration stops at the first store error.
func (c *Collection) All(ctx context.Context, filter Filter, pageSize int) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		token := ""
		for {
			page, err := c.Scan(ctx, filter, token, pageSize)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, r := range page.Records {
				if !yield(r, nil) {
					return
				}
			}
			if page.Next == "" {
				return
			}
			token = page.Next
		}
	}
}
