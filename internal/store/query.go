package store

import (
	"cmp"
	"slices"
	"strings"

	"github.com/go-json-experiment/json"
)

// apply filters, orders and limits children according to q.
func (q Query) apply(children []Child) []Child {
	type entry struct {
		child Child
		value any
	}

	entries := make([]entry, 0, len(children))
	for _, c := range children {
		entries = append(entries, entry{child: c, value: q.orderValue(c)})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		if c := compareValues(a.value, b.value); c != 0 {
			return c
		}
		return strings.Compare(a.child.Key, b.child.Key)
	})

	out := make([]Child, 0, len(entries))
	for _, e := range entries {
		if q.StartAt != nil && compareValues(e.value, normalize(q.StartAt)) < 0 {
			continue
		}
		if q.EndAt != nil && compareValues(e.value, normalize(q.EndAt)) > 0 {
			continue
		}
		out = append(out, e.child)
	}

	if q.LimitToLast > 0 && len(out) > q.LimitToLast {
		out = out[len(out)-q.LimitToLast:]
	}
	return out
}

func (q Query) orderValue(c Child) any {
	switch q.OrderBy {
	case "", OrderByKey:
		return c.Key
	}

	var doc any
	if err := json.Unmarshal(c.Value, &doc); err != nil {
		return nil
	}
	if q.OrderBy == OrderByValue {
		return doc
	}
	return lookupField(doc, q.OrderBy)
}

func (q Query) byKey() bool {
	return q.OrderBy == "" || q.OrderBy == OrderByKey
}

func lookupField(doc any, field string) any {
	cur := doc
	for _, part := range strings.Split(field, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// normalize maps Go numbers onto float64, the type decoded JSON numbers have.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

// typeRank orders values of different types: missing, false, true,
// numbers, strings, objects and arrays.
func typeRank(v any) int {
	switch b := v.(type) {
	case nil:
		return 0
	case bool:
		if b {
			return 2
		}
		return 1
	case float64:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

func compareValues(a, b any) int {
	a, b = normalize(a), normalize(b)
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case float64:
		return cmp.Compare(av, b.(float64))
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}
