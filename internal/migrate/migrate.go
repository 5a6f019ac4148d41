// Package migrate applies an ordered list of forward-only schema steps.
// Step i moves the database from version i to version i+1; each step runs
// in its own upgrade transaction together with the version bump, so a
// database is always at the boundary between two steps.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// ApplyFunc changes the schema, and optionally the data, inside an upgrade
// transaction. It must not commit or roll back the transaction.
type ApplyFunc func(ctx context.Context, tx core.UpgradeTransaction) error

// Step is one migration.
type Step struct {
	Name  string
	Apply ApplyFunc
}

// Manifest registers steps in the order they apply.
type Manifest struct {
	steps []Step
}

// NewManifest creates a manifest holding the given steps.
func NewManifest(steps ...Step) *Manifest {
	return &Manifest{steps: append([]Step(nil), steps...)}
}

// Add appends a step.
func (m *Manifest) Add(name string, apply ApplyFunc) *Manifest {
	m.steps = append(m.steps, Step{Name: name, Apply: apply})
	return m
}

// CreateTable appends a step creating one table.
func (m *Manifest) CreateTable(s *core.Schema) *Manifest {
	return m.Add("create "+s.TableName, func(ctx context.Context, tx core.UpgradeTransaction) error {
		return tx.CreateTable(ctx, s)
	})
}

// Steps returns a copy of the registered steps.
func (m *Manifest) Steps() []Step {
	if m == nil {
		return nil
	}
	return append([]Step(nil), m.steps...)
}

// Version is the version the manifest migrates to.
func (m *Manifest) Version() int {
	if m == nil {
		return 0
	}
	return len(m.steps)
}

// Error reports a failed step. The database stays at Applied.
type Error struct {
	Step    int
	Name    string
	Applied int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration step %d (%s) failed, database remains at version %d: %v", e.Step, e.Name, e.Applied, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// State is where a database stands relative to a manifest.
type State int

const (
	// Current means every step has been applied.
	Current State = iota
	// Pending means some steps have not been applied yet.
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "current"
}

// Result summarizes a run.
type Result struct {
	From    int
	To      int
	Applied []string
}

// Runner applies a manifest to an adapter.
type Runner struct {
	adapter  core.Adapter
	manifest *Manifest
	logger   *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(a core.Adapter, manifest *Manifest, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if manifest == nil {
		manifest = NewManifest()
	}
	return &Runner{
		adapter:  a,
		manifest: manifest,
		logger:   logger.Named("migrate"),
	}
}

// State reports whether the opened database has pending steps.
func (r *Runner) State(ctx context.Context) (State, error) {
	applied, err := r.adapter.AppliedVersion(ctx)
	if err != nil {
		return Current, err
	}
	if applied < r.manifest.Version() {
		return Pending, nil
	}
	return Current, nil
}

// Run opens the named database and applies the steps it has not seen. A
// failing step is rolled back and reported as *Error; the steps before it
// stay applied and a later Run resumes from the failed step.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	steps := r.manifest.Steps()
	for i, step := range steps {
		if step.Apply == nil {
			return nil, fmt.Errorf("migration step %d (%s) has no apply function", i, step.Name)
		}
	}

	up, err := r.adapter.OpenDatabase(ctx, name, len(steps))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", name, err)
	}
	if up == nil {
		r.logger.Debug("database is current", zap.String("database", name), zap.Int("version", len(steps)))
		return &Result{From: len(steps), To: len(steps)}, nil
	}

	result := &Result{From: up.OldVersion(), To: up.OldVersion()}
	r.logger.Info("migrating database",
		zap.String("database", name),
		zap.Int("from", result.From),
		zap.Int("to", len(steps)))

	for i := result.From; i < len(steps); i++ {
		if up == nil {
			if up, err = r.adapter.BeginUpgrade(ctx); err != nil {
				return result, &Error{Step: i, Name: steps[i].Name, Applied: result.To, Err: err}
			}
		}
		if err := r.apply(ctx, up, i, steps[i]); err != nil {
			return result, err
		}
		up = nil
		result.To = i + 1
		result.Applied = append(result.Applied, steps[i].Name)
	}

	r.logger.Info("database migrated", zap.String("database", name), zap.Int("version", result.To))
	return result, nil
}

// apply runs step i and records version i+1 in the same transaction.
func (r *Runner) apply(ctx context.Context, up core.UpgradeTransaction, i int, step Step) error {
	start := time.Now()
	fail := func(err error) error {
		if rbErr := up.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, core.ErrTransactionClosed) {
			r.logger.Error("rollback failed", zap.Int("step", i), zap.Error(rbErr))
		}
		r.logger.Error("migration step failed", zap.Int("step", i), zap.String("name", step.Name), zap.Error(err))
		return &Error{Step: i, Name: step.Name, Applied: i, Err: err}
	}

	if old := up.OldVersion(); old != i {
		return fail(core.Errorf(core.ErrSchemaMismatch, "expected version %d, found %d", i, old))
	}
	if err := step.Apply(ctx, up); err != nil {
		return fail(err)
	}
	if err := up.SetVersion(ctx, i+1); err != nil {
		return fail(err)
	}
	if err := up.Commit(ctx); err != nil {
		return &Error{Step: i, Name: step.Name, Applied: i, Err: err}
	}

	r.logger.Info("migration step applied",
		zap.Int("step", i),
		zap.String("name", step.Name),
		zap.Duration("duration", time.Since(start)))
	return nil
}
