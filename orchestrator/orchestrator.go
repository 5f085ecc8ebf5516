// Package orchestrator runs the per-table sync algorithm across a whole
// table set, bounding parallelism with one errgroup per foreign-key
// dependency level: every table in a level runs concurrently (up to the
// configured limit), and a level only starts once every table in the
// previous level has finished, so a referenced table's data is always
// settled before a referencing table's delta is computed against it. One
// table's failure never cancels its level-mates: each table's outcome is
// recorded independently, so a single bad table degrades a run rather than
// aborting it.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sqlmirror/tablemirror/apply"
	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/ddl"
	"github.com/sqlmirror/tablemirror/delta"
	"github.com/sqlmirror/tablemirror/events"
	"github.com/sqlmirror/tablemirror/ledger"
	"github.com/sqlmirror/tablemirror/strategy"
	"github.com/sqlmirror/tablemirror/syncerrors"
)

// TableConfig is one table's sync parameters, resolved from configuration.
type TableConfig struct {
	Ref                catalog.TableRef
	PrimaryKeyOverride []string
	WhereClause        string
}

// Orchestrator wires the catalog reader, DDL emitter, ledger, strategy
// selector, delta computer and batch applier together into the per-table
// algorithm and a dependency-aware worker pool.
type Orchestrator struct {
	Source            *sql.DB
	Dest              *sql.DB
	Reader            catalog.Reader
	Ledger            ledger.Ledger
	Applier           *apply.Applier
	Events            *events.Queue
	MaxParallelTables int
}

// RunOne executes the six-step algorithm for a single table: resolve PK,
// ensure the destination table exists (creating it from the source schema
// if not), initialize/advance the ledger, select a strategy, compute and
// apply the delta, then record success or failure.
func (o *Orchestrator) RunOne(ctx context.Context, runID string, cfg TableConfig) error {
	ref := cfg.Ref
	o.publish(events.Event{Kind: events.TableStarted, Table: ref.String()})

	if err := ctx.Err(); err != nil {
		return err
	}

	schema, err := o.Reader.ReadSchema(ctx, ref)
	if err != nil {
		o.recordFailure(ctx, ref, runID, err)
		return err
	}
	if _, _, err := schema.EffectivePrimaryKey(cfg.PrimaryKeyOverride); err != nil {
		kind := syncerrors.InvalidPKOverride
		if len(cfg.PrimaryKeyOverride) == 0 {
			kind = syncerrors.NoPrimaryKey
		}
		wrapped := syncerrors.New(kind, ref.String(), err)
		o.recordFailure(ctx, ref, runID, wrapped)
		return wrapped
	}

	destExists, err := o.tableExistsOnDest(ctx, ref)
	if err != nil {
		o.recordFailure(ctx, ref, runID, err)
		return err
	}
	if !destExists {
		if err := o.createDestTable(ctx, schema); err != nil {
			o.recordFailure(ctx, ref, runID, err)
			return err
		}
		o.publish(events.Event{Kind: events.TableSchemaCreated, Table: ref.String()})
	}

	if err := o.Ledger.RecordStart(ctx, ref, runID); err != nil {
		o.recordFailure(ctx, ref, runID, err)
		return err
	}

	priorEntry, hasPrior, err := o.Ledger.Load(ctx, ref)
	if err != nil {
		o.recordFailure(ctx, ref, runID, err)
		return err
	}

	pkCols, pkAutoDetected, _ := schema.EffectivePrimaryKey(cfg.PrimaryKeyOverride)
	st := strategy.Select(schema, priorEntry, hasPrior)
	o.publish(events.Event{Kind: events.TableStrategySelected, Table: ref.String(), Strategy: string(st)})

	computer := delta.New(o.Source, o.Dest)
	set, err := computer.Compute(ctx, schema, st, pkCols, priorEntry.HighWaterMark, cfg.WhereClause)
	if err != nil {
		o.recordFailure(ctx, ref, runID, err)
		return err
	}

	if err := ctx.Err(); err != nil {
		o.recordFailure(ctx, ref, runID, err)
		return err
	}

	rvName := ""
	if rv, ok := schema.RowversionColumn(); ok {
		rvName = rv.Name
	}

	// recordLedger runs inside Apply's own transaction so the ledger's OK
	// row and the data it describes commit or roll back as one unit.
	recordLedger := func(ctx context.Context, tx *sql.Tx, result apply.Result) error {
		return o.Ledger.RecordSuccess(ctx, tx, ledger.SuccessUpdate{
			Table:             ref,
			RunID:             runID,
			Strategy:          string(st),
			PrimaryKeyColumns: pkCols,
			PKAutoDetected:    pkAutoDetected,
			WhereClause:       cfg.WhereClause,
			RowversionColumn:  rvName,
			HighWaterMark:     set.NewHighWaterMark,
			Inserted:          result.Inserted,
			Updated:           result.Updated,
			Deleted:           result.Deleted,
		})
	}

	result, err := o.Applier.Apply(ctx, schema, set, recordLedger)
	if err != nil {
		o.recordFailure(ctx, ref, runID, err)
		return err
	}
	o.publish(events.Event{
		Kind: events.BatchApplied, Table: ref.String(),
		Inserted: result.Inserted, Updated: result.Updated, Deleted: result.Deleted,
	})
	o.publish(events.Event{Kind: events.TableCompleted, Table: ref.String(), Inserted: result.Inserted, Updated: result.Updated, Deleted: result.Deleted})
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, ref catalog.TableRef, runID string, syncErr error) {
	slog.Error("table sync failed", "table", ref.String(), "error", syncErr)
	// Use a background context so a canceled run still gets its failure
	// recorded rather than losing the error to the same cancellation.
	_ = o.Ledger.RecordError(context.Background(), ref, runID, syncErr)
	o.publish(events.Event{Kind: events.TableFailed, Table: ref.String(), Err: syncErr})
}

func (o *Orchestrator) publish(e events.Event) {
	if o.Events != nil {
		o.Events.Publish(e)
	}
}

func (o *Orchestrator) tableExistsOnDest(ctx context.Context, ref catalog.TableRef) (bool, error) {
	destReader := catalog.NewReader(o.Dest)
	return destReader.TableExists(ctx, ref)
}

func (o *Orchestrator) createDestTable(ctx context.Context, schema *catalog.TableSchema) error {
	for _, stmt := range ddl.TableStatements(schema, true) {
		if _, err := o.Dest.ExecContext(ctx, stmt.SQL); err != nil {
			return syncerrors.New(syncerrors.DDLExecutionFailed, schema.Ref.String(), fmt.Errorf("%s: %w", stmt.Kind, err))
		}
	}
	return nil
}

// DepGraph is the table set's foreign-key dependency structure, leveled for
// concurrent scheduling: every table in Levels[i] may run as soon as every
// table in Levels[i-1] has finished. Cyclic tells you which tables had no
// valid ordering relative to each other and were scheduled as one batch.
type DepGraph struct {
	Levels [][]*catalog.TableSchema
	Cyclic []*catalog.TableSchema
}

// BuildDependencyGraph sorts a table set by foreign-key dependency and
// groups it into levels suitable for RunAll's level-by-level worker pool.
func BuildDependencyGraph(schemas []*catalog.TableSchema) (*DepGraph, error) {
	ordered := ddl.SortByDependencies(schemas)
	return &DepGraph{Levels: buildLevels(ordered), Cyclic: ordered.Cyclic}, nil
}

// RunAll runs the table set's dependency graph level by level, bounded by
// MaxParallelTables, with a barrier between levels. Within a level, tables
// run under a plain errgroup.Group (no WithContext), which bounds
// concurrency without wiring one table's error into a shared cancellation
// signal: a table's failure is recorded and the rest of its level keeps
// converging undisturbed. A destination table that RunOne creates gets no
// FOREIGN KEY constraints (they are left out of its DDL), and RunAll runs
// no later pass that adds them.
func (o *Orchestrator) RunAll(ctx context.Context, runID string, schemas []*catalog.TableSchema, configs map[string]TableConfig) events.Event {
	graph, _ := BuildDependencyGraph(schemas)

	summary := events.Event{Kind: events.RunSummary, TablesTotal: len(schemas)}
	limit := o.MaxParallelTables
	if limit <= 0 {
		limit = 5
	}

	var mu sync.Mutex
	for _, level := range graph.Levels {
		var eg errgroup.Group
		eg.SetLimit(limit)
		for _, schema := range level {
			schema := schema
			cfg, ok := configs[schema.Ref.String()]
			if !ok {
				cfg = TableConfig{Ref: schema.Ref}
			}
			eg.Go(func() error {
				err := o.RunOne(ctx, runID, cfg)
				mu.Lock()
				if err != nil {
					summary.TablesFailed++
				} else {
					summary.TablesOK++
				}
				mu.Unlock()
				return nil
			})
		}
		eg.Wait()
	}

	o.publish(summary)
	return summary
}

// buildLevels groups the acyclic tables into dependency levels (tables with
// no remaining un-leveled dependency go in the next level) and appends the
// cyclic set as its own final level, since cyclic tables have no valid
// ordering relative to each other anyway.
func buildLevels(ordered ddl.OrderedTables) [][]*catalog.TableSchema {
	remaining := append([]*catalog.TableSchema{}, ordered.Acyclic...)
	placed := make(map[string]bool)
	var levels [][]*catalog.TableSchema

	for len(remaining) > 0 {
		var level []*catalog.TableSchema
		var next []*catalog.TableSchema
		for _, t := range remaining {
			ready := true
			for _, fk := range t.ForeignKeys {
				refKey := fk.RefTable.String()
				if refKey == t.Ref.String() {
					continue
				}
				if !placed[refKey] && containsRef(remaining, fk.RefTable) {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, t)
			} else {
				next = append(next, t)
			}
		}
		if len(level) == 0 {
			// Safety valve: dependency info disagreed with the topological
			// sort (should not happen). Flush the rest as one level rather
			// than looping forever.
			level = next
			next = nil
		}
		for _, t := range level {
			placed[t.Ref.String()] = true
		}
		levels = append(levels, level)
		remaining = next
	}
	if len(ordered.Cyclic) > 0 {
		levels = append(levels, ordered.Cyclic)
	}
	return levels
}

func containsRef(tables []*catalog.TableSchema, ref catalog.TableRef) bool {
	for _, t := range tables {
		if t.Ref.Equal(ref) {
			return true
		}
	}
	return false
}
