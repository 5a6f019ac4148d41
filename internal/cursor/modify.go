package cursor

import (
	"context"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/query"
)

// VisitFunc writes through the cursor positioned on a matching row, with
// Cursor.Update or Cursor.Delete, and returns the row to report (or nil).
type VisitFunc func(ctx context.Context, c core.Cursor) (core.Row, error)

// Modify calls fn for every row selected by a plan, in plan order, and
// returns the rows fn reported. Each row is visited at most once even when
// fn moves it further along the scanned index.
func Modify(ctx context.Context, src Source, plan core.Plan, caps core.Capabilities, fn VisitFunc) ([]core.Row, error) {
	s := src.Schema()
	p, err := Prepare(s, plan, caps)
	if err != nil {
		return nil, err
	}
	if p.Limit == 0 {
		return []core.Row{}, nil
	}
	if p.Materialize {
		return modifyMaterialized(ctx, src, p, fn)
	}

	c, err := src.OpenCursor(ctx, p.Index, p.Direction)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var (
		out     = []core.Row{}
		visited = map[string]struct{}{}
		skipped int
		emitted int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := c.Value()
		if row == nil {
			return out, nil
		}

		key, err := query.EncodeKey(row[s.PrimaryKey])
		if err != nil {
			return nil, err
		}
		if _, seen := visited[key]; !seen && p.Predicate(row) {
			visited[key] = struct{}{}
			if skipped < p.Offset {
				skipped++
			} else {
				result, err := fn(ctx, c)
				if err != nil {
					return nil, err
				}
				if result != nil {
					out = append(out, result)
				}
				emitted++
				if p.Limit > 0 && emitted >= p.Limit {
					return out, nil
				}
			}
		}

		if err := c.Next(ctx); err != nil {
			return nil, err
		}
	}
}

// modifyMaterialized selects the window first, then walks the primary key
// cursor and visits the selected rows.
func modifyMaterialized(ctx context.Context, src Source, p *Prepared, fn VisitFunc) ([]core.Row, error) {
	s := src.Schema()
	selected, err := Collect(p.Run(ctx, src))
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return []core.Row{}, nil
	}

	position := make(map[string]int, len(selected))
	for i, row := range selected {
		key, err := query.EncodeKey(row[s.PrimaryKey])
		if err != nil {
			return nil, err
		}
		position[key] = i
	}

	c, err := src.OpenCursor(ctx, "", core.Asc)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	results := make([]core.Row, len(selected))
	remaining := len(selected)
	for remaining > 0 {
		row := c.Value()
		if row == nil {
			break
		}
		key, err := query.EncodeKey(row[s.PrimaryKey])
		if err != nil {
			return nil, err
		}
		if i, ok := position[key]; ok {
			result, err := fn(ctx, c)
			if err != nil {
				return nil, err
			}
			results[i] = result
			remaining--
		}
		if err := c.Next(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]core.Row, 0, len(results))
	for _, row := range results {
		if row != nil {
			out = append(out, row)
		}
	}
	return out, nil
}
