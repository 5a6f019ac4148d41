package query

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Compare orders two canonical values. NULL sorts before every value.
// Values of different kinds fall back to comparing their textual form.
func Compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y)
		case float64:
			return cmp.Compare(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp.Compare(x, y)
		case int64:
			return cmp.Compare(x, float64(y))
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case time.Duration:
		if y, ok := b.(time.Duration); ok {
			return cmp.Compare(x, y)
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:])
		}
	case json.RawMessage:
		if y, ok := b.(json.RawMessage); ok {
			return bytes.Compare(x, y)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// RowComparator returns the ordering used for every query: the ordering
// column first, then the primary key, both in the requested direction.
// A nil order sorts by primary key ascending.
func RowComparator(s *core.Schema, order *core.OrderBy) func(a, b core.Row) int {
	pk := s.PrimaryKey
	column := pk
	if order != nil && order.Column != "" {
		column = order.Column
	}
	sign := 1
	if order.Descending() {
		sign = -1
	}
	return func(a, b core.Row) int {
		if c := Compare(a[column], b[column]); c != 0 {
			return sign * c
		}
		if column == pk {
			return 0
		}
		return sign * Compare(a[pk], b[pk])
	}
}

// SortRows sorts rows in place with a stable sort.
func SortRows(rows []core.Row, s *core.Schema, order *core.OrderBy) {
	slices.SortStableFunc(rows, RowComparator(s, order))
}
