// Package cursor turns engine cursors into filtered, ordered, paginated
// lazy row sequences. Every cursor-based adapter shares it.
package cursor

import (
	"context"
	"iter"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/query"
)

// Opener opens the cursor backing a sequence.
type Opener func(ctx context.Context) (core.Cursor, error)

// Rows returns a lazy sequence over the rows of a cursor. The cursor is
// opened on the first pull and closed however iteration ends: exhaustion,
// early break or error.
func Rows(ctx context.Context, open Opener) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		c, err := open(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		defer c.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			row := c.Value()
			if row == nil {
				return
			}
			if !yield(row, nil) {
				return
			}
			if err := c.Next(ctx); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Filter composes a sequence with a predicate and a window. Rows are
// filtered first, then the first offset matches are skipped, then at most
// limit matches are yielded. A negative limit is unbounded.
func Filter(seq iter.Seq2[core.Row, error], pred query.Predicate, offset, limit int) iter.Seq2[core.Row, error] {
	if pred == nil {
		pred = query.MatchAll
	}
	return func(yield func(core.Row, error) bool) {
		if limit == 0 {
			return
		}
		skipped, emitted := 0, 0
		for row, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			if !pred(row) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			if !yield(row, nil) {
				return
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return
			}
		}
	}
}

// Collect drains a sequence into a slice.
func Collect(seq iter.Seq2[core.Row, error]) ([]core.Row, error) {
	rows := []core.Row{}
	for row, err := range seq {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Fail is a sequence that yields a single error.
func Fail(err error) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		yield(nil, err)
	}
}
