// Package adaptertest is the conformance suite every adapter runs.
package adaptertest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// Database and Version are what Migrate opens.
const (
	Database = "conformance"
	Version  = 1
)

var (
	// Projects has a text primary key and a unique column.
	Projects = schema.MustDefineTable("projects", schema.Columns{
		"id":      schema.Text().PrimaryKey(),
		"name":    schema.Text().Unique(),
		"budget":  schema.Double().Nullable(),
		"active":  schema.Boolean(),
		"created": schema.DateTime().Indexed(),
	})

	// Tasks covers every column type.
	Tasks = schema.MustDefineTable("tasks", schema.Columns{
		"id":        schema.Integer().PrimaryKey(),
		"projectId": schema.Text().Indexed(),
		"title":     schema.Text(),
		"estimate":  schema.Interval().Nullable(),
		"due":       schema.Date().Nullable(),
		"start":     schema.Time().Nullable(),
		"tag":       schema.UUID().Nullable(),
		"meta":      schema.JSON().Nullable(),
		"priority":  schema.Integer().Nullable(),
	})
)

// DataGen generates rows for the test tables.
type DataGen struct {
	*gofakeit.Faker
	next int64
}

// NewDataGen creates a deterministic generator.
func NewDataGen(seed int64) *DataGen {
	return &DataGen{Faker: gofakeit.New(seed)}
}

// Project generates a project row with a unique id and name.
func (g *DataGen) Project() core.Row {
	g.next++
	var budget interface{}
	if g.Bool() {
		budget = float64(g.IntRange(0, 100000)) / 4
	}
	return core.Row{
		"id":      fmt.Sprintf("p%04d", g.next),
		"name":    fmt.Sprintf("%s %d", g.AppName(), g.next),
		"budget":  budget,
		"active":  g.Bool(),
		"created": g.DateRange(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).UTC().Truncate(time.Microsecond),
	}
}

// Task generates a task row for one of the given projects.
func (g *DataGen) Task(projectIDs ...string) core.Row {
	g.next++
	row := core.Row{
		"id":        g.next,
		"projectId": projectIDs[g.IntRange(0, len(projectIDs)-1)],
		"title":     g.Sentence(3),
		"estimate":  nil,
		"due":       nil,
		"start":     nil,
		"tag":       nil,
		"meta":      nil,
		"priority":  nil,
	}
	if g.Bool() {
		row["estimate"] = time.Duration(g.IntRange(1, 480)) * time.Minute
	}
	if g.Bool() {
		row["due"] = g.DateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	}
	if g.Bool() {
		row["start"] = time.Duration(g.IntRange(0, 24*60-1)) * time.Minute
	}
	if g.Bool() {
		row["tag"] = uuid.Must(uuid.FromBytes([]byte(g.LetterN(16))))
	}
	if g.Bool() {
		doc, _ := json.Marshal(map[string]interface{}{"color": g.Color(), "n": g.IntRange(0, 9)})
		row["meta"] = json.RawMessage(doc)
	}
	if g.Bool() {
		row["priority"] = int64(g.IntRange(1, 5))
	}
	return row
}

// Migrate creates the test tables at version 1.
func Migrate(ctx context.Context, a core.Adapter) error {
	up, err := a.OpenDatabase(ctx, Database, Version)
	if err != nil {
		return err
	}
	if up == nil {
		return nil
	}
	for _, s := range []*core.Schema{Projects, Tasks} {
		if err := up.CreateTable(ctx, s); err != nil {
			_ = up.Rollback(ctx)
			return err
		}
	}
	if err := up.SetVersion(ctx, Version); err != nil {
		_ = up.Rollback(ctx)
		return err
	}
	return up.Commit(ctx)
}
