// Package apply writes a delta.Set to the destination in batches, inside a
// per-table transaction, in DELETE then UPDATE then INSERT order so a
// row that moves primary key values within one sync can never collide
// with itself mid-batch.
package apply

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/delta"
	"github.com/sqlmirror/tablemirror/syncerrors"
)

const defaultBatchSize = 1000

// Result totals what a single Apply call did.
type Result struct {
	Inserted int64
	Updated  int64
	Deleted  int64
}

// Applier writes deltas to a destination connection.
type Applier struct {
	db        *sql.DB
	batchSize int
}

func New(db *sql.DB, batchSize int) *Applier {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Applier{db: db, batchSize: batchSize}
}

// LedgerRecorder writes a table's ledger success row using the same
// transaction Apply used to mutate its data, so the two commit or roll back
// together (see ledger.SQLServerLedger.RecordSuccess). Apply calls it, if
// non-nil, with the final row counts just before committing.
type LedgerRecorder func(ctx context.Context, tx *sql.Tx, result Result) error

// Apply runs the full delta set against the table in one transaction,
// toggling IDENTITY_INSERT around the insert batches when the table has an
// identity column, invoking recordLedger (if non-nil) in the same
// transaction just before committing, and rolling back entirely — data and
// ledger update both — on any error.
func (a *Applier) Apply(ctx context.Context, schema *catalog.TableSchema, set delta.Set, recordLedger LedgerRecorder) (Result, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
	}
	defer tx.Rollback()

	var result Result
	dataCols := schema.DataColumns()
	pkCols, _, err := schema.EffectivePrimaryKey(nil)
	if err != nil {
		return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
	}

	deletes, updates, inserts := partition(set.Rows)

	if n, err := a.applyDeletes(ctx, tx, schema.Ref, pkCols, deletes); err != nil {
		return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
	} else {
		result.Deleted = n
	}

	if n, err := a.applyUpdates(ctx, tx, schema.Ref, dataCols, pkCols, updates); err != nil {
		return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
	} else {
		result.Updated = n
	}

	hasIdentity := hasIdentityColumn(schema)
	if hasIdentity && len(inserts) > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET IDENTITY_INSERT %s ON;", schema.Ref.Bracketed())); err != nil {
			return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
		}
	}
	if n, err := a.applyInserts(ctx, tx, schema.Ref, dataCols, inserts); err != nil {
		return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
	} else {
		result.Inserted = n
	}
	if hasIdentity && len(inserts) > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET IDENTITY_INSERT %s OFF;", schema.Ref.Bracketed())); err != nil {
			return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
		}
	}

	if recordLedger != nil {
		if err := recordLedger(ctx, tx, result); err != nil {
			return Result{}, syncerrors.New(syncerrors.LedgerUpdateFailed, schema.Ref.String(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, syncerrors.New(syncerrors.BatchApplyFailed, schema.Ref.String(), err)
	}
	return result, nil
}

func partition(rows []delta.Row) (deletes, updates, inserts []delta.Row) {
	for _, r := range rows {
		switch r.Op {
		case delta.OpDelete:
			deletes = append(deletes, r)
		case delta.OpUpdate:
			updates = append(updates, r)
		case delta.OpInsert:
			inserts = append(inserts, r)
		}
	}
	return
}

func (a *Applier) applyDeletes(ctx context.Context, tx *sql.Tx, ref catalog.TableRef, pkCols []string, rows []delta.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	where := make([]string, len(pkCols))
	for i, col := range pkCols {
		where[i] = fmt.Sprintf("[%s] = @p%d", col, i+1)
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s;", ref.Bracketed(), strings.Join(where, " AND "))

	var total int64
	for _, batch := range chunk(rows, a.batchSize) {
		for _, r := range batch {
			res, err := tx.ExecContext(ctx, q, r.Key...)
			if err != nil {
				return total, err
			}
			n, _ := res.RowsAffected()
			total += n
		}
	}
	return total, nil
}

func (a *Applier) applyUpdates(ctx context.Context, tx *sql.Tx, ref catalog.TableRef, dataCols []catalog.ColumnDesc, pkCols []string, rows []delta.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	setCols := nonKeyColumns(dataCols, pkCols)
	setClauses := make([]string, len(setCols))
	for i, c := range setCols {
		setClauses[i] = fmt.Sprintf("[%s] = @p%d", c.Name, i+1)
	}
	whereClauses := make([]string, len(pkCols))
	for i, col := range pkCols {
		whereClauses[i] = fmt.Sprintf("[%s] = @p%d", col, len(setCols)+i+1)
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s;", ref.Bracketed(), strings.Join(setClauses, ", "), strings.Join(whereClauses, " AND "))

	var total int64
	for _, batch := range chunk(rows, a.batchSize) {
		for _, r := range batch {
			args := make([]any, 0, len(setCols)+len(pkCols))
			args = append(args, valuesFor(dataCols, r.Values, setCols)...)
			args = append(args, r.Key...)
			res, err := tx.ExecContext(ctx, q, args...)
			if err != nil {
				return total, err
			}
			n, _ := res.RowsAffected()
			total += n
		}
	}
	return total, nil
}

func (a *Applier) applyInserts(ctx context.Context, tx *sql.Tx, ref catalog.TableRef, dataCols []catalog.ColumnDesc, rows []delta.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	names := make([]string, len(dataCols))
	placeholders := make([]string, len(dataCols))
	for i, c := range dataCols {
		names[i] = fmt.Sprintf("[%s]", c.Name)
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", ref.Bracketed(), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	var total int64
	for _, batch := range chunk(rows, a.batchSize) {
		for _, r := range batch {
			res, err := tx.ExecContext(ctx, q, r.Values...)
			if err != nil {
				return total, err
			}
			n, _ := res.RowsAffected()
			total += n
		}
	}
	return total, nil
}

func chunk(rows []delta.Row, size int) [][]delta.Row {
	var out [][]delta.Row
	for size > 0 && len(rows) > 0 {
		end := size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[:end])
		rows = rows[end:]
	}
	if len(out) == 0 && len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

func nonKeyColumns(dataCols []catalog.ColumnDesc, pkCols []string) []catalog.ColumnDesc {
	pk := make(map[string]bool, len(pkCols))
	for _, c := range pkCols {
		pk[strings.ToLower(c)] = true
	}
	var out []catalog.ColumnDesc
	for _, c := range dataCols {
		if !pk[strings.ToLower(c.Name)] {
			out = append(out, c)
		}
	}
	return out
}

func valuesFor(dataCols []catalog.ColumnDesc, vals []any, want []catalog.ColumnDesc) []any {
	out := make([]any, len(want))
	for i, w := range want {
		for j, c := range dataCols {
			if strings.EqualFold(c.Name, w.Name) {
				out[i] = vals[j]
				break
			}
		}
	}
	return out
}

func hasIdentityColumn(schema *catalog.TableSchema) bool {
	for _, c := range schema.Columns {
		if c.Kind == catalog.IdentityColumn {
			return true
		}
	}
	return false
}
