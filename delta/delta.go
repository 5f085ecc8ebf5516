// Package delta computes the set of rows that need to change on the
// destination to catch up with the source, using either a ROWVERSION
// high-water-mark comparison or a row hash comparison, depending on the
// chosen strategy.
package delta

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/strategy"
	"github.com/sqlmirror/tablemirror/syncerrors"
	"github.com/sqlmirror/tablemirror/util"
)

// Op is the kind of change a Row represents.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Row is one changed row, keyed by its primary key values, carrying every
// data-column value when it's an insert or update (nil for deletes, since
// only the key is needed to remove the row).
type Row struct {
	Op     Op
	Key    []any
	Values []any // aligned with TableSchema.DataColumns(), nil for OpDelete
}

// Set is the full outcome of one table's delta computation.
type Set struct {
	Table            catalog.TableRef
	Strategy         strategy.Kind
	Rows             []Row
	NewHighWaterMark []byte // non-nil only when Strategy uses a rowversion
}

// Computer computes deltas against an open source and destination
// connection pair.
type Computer struct {
	Source *sql.DB
	Dest   *sql.DB
}

func New(source, dest *sql.DB) *Computer {
	return &Computer{Source: source, Dest: dest}
}

// Compute dispatches to the strategy-specific algorithm. pkCols is the
// effective primary key (catalog or override) used to key and order rows;
// whereClause, if non-empty, is ANDed into both source and destination
// scans so a filtered sync only ever sees its own row subset.
func (c *Computer) Compute(ctx context.Context, schema *catalog.TableSchema, st strategy.Kind, pkCols []string, priorHighWaterMark []byte, whereClause string) (Set, error) {
	switch st {
	case strategy.Rowversion:
		return c.computeRowversion(ctx, schema, pkCols, priorHighWaterMark, whereClause)
	case strategy.RowversionInitial:
		return c.computeRowversionInitial(ctx, schema, pkCols, whereClause)
	case strategy.Hash:
		return c.computeHash(ctx, schema, pkCols, whereClause)
	default:
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), fmt.Errorf("unknown strategy %q", st))
	}
}

// computeRowversion scans only source rows whose rowversion exceeds the
// prior high-water mark, and classifies each as insert or update by probing
// the destination for an existing key. It also compares the full key sets
// of source and destination to find keys no longer present on the source,
// to produce deletes — both key scans are bounded by the same
// pkCols/whereClause so cross-referencing stays symmetric between source
// and destination.
func (c *Computer) computeRowversion(ctx context.Context, schema *catalog.TableSchema, pkCols []string, priorHighWaterMark []byte, whereClause string) (Set, error) {
	rvCol, ok := schema.RowversionColumn()
	if !ok {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), fmt.Errorf("rowversion strategy requires a rowversion column"))
	}

	dataCols := schema.DataColumns()
	selectList := bracketedList(columnNames(dataCols))

	q := fmt.Sprintf("SELECT %s FROM %s WHERE [%s] > @p1", selectList, schema.Ref.Bracketed(), rvCol.Name)
	q = applyWhere(q, whereClause)
	q += fmt.Sprintf(" ORDER BY %s", bracketedList(pkCols))

	rows, err := c.Source.QueryContext(ctx, q, priorHighWaterMark)
	if err != nil {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
	}
	defer rows.Close()

	set := Set{Table: schema.Ref, Strategy: strategy.Rowversion}
	newHWM := priorHighWaterMark

	for rows.Next() {
		vals, err := scanRow(rows, len(dataCols))
		if err != nil {
			return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
		}
		key := keyValues(dataCols, vals, pkCols)

		exists, err := c.destRowExists(ctx, schema.Ref, pkCols, key)
		if err != nil {
			return Set{}, err
		}
		op := OpInsert
		if exists {
			op = OpUpdate
		}
		set.Rows = append(set.Rows, Row{Op: op, Key: key, Values: vals})

		if rv, ok := rvValueOf(dataCols, vals, rvCol.Name); ok {
			if rvBytesGreater(rv, newHWM) {
				newHWM = rv
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
	}

	deletes, err := c.computeDeletes(ctx, schema, pkCols, whereClause)
	if err != nil {
		return Set{}, err
	}
	set.Rows = append(set.Rows, deletes...)
	set.NewHighWaterMark = newHWM
	return set, nil
}

// computeRowversionInitial treats every source row as an insert-or-update
// candidate, since there is no prior high-water mark to filter against; it
// still classifies insert vs. update against the destination so a partially
// populated destination converges correctly.
func (c *Computer) computeRowversionInitial(ctx context.Context, schema *catalog.TableSchema, pkCols []string, whereClause string) (Set, error) {
	rvCol, ok := schema.RowversionColumn()
	if !ok {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), fmt.Errorf("rowversion strategy requires a rowversion column"))
	}
	dataCols := schema.DataColumns()
	selectList := bracketedList(columnNames(dataCols))

	q := fmt.Sprintf("SELECT %s FROM %s", selectList, schema.Ref.Bracketed())
	q = applyWhere(q, whereClause)
	q += fmt.Sprintf(" ORDER BY %s", bracketedList(pkCols))

	rows, err := c.Source.QueryContext(ctx, q)
	if err != nil {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
	}
	defer rows.Close()

	set := Set{Table: schema.Ref, Strategy: strategy.RowversionInitial}
	var newHWM []byte

	for rows.Next() {
		vals, err := scanRow(rows, len(dataCols))
		if err != nil {
			return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
		}
		key := keyValues(dataCols, vals, pkCols)

		exists, err := c.destRowExists(ctx, schema.Ref, pkCols, key)
		if err != nil {
			return Set{}, err
		}
		op := OpInsert
		if exists {
			op = OpUpdate
		}
		set.Rows = append(set.Rows, Row{Op: op, Key: key, Values: vals})

		if rv, ok := rvValueOf(dataCols, vals, rvCol.Name); ok {
			if newHWM == nil || rvBytesGreater(rv, newHWM) {
				newHWM = rv
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
	}

	deletes, err := c.computeDeletes(ctx, schema, pkCols, whereClause)
	if err != nil {
		return Set{}, err
	}
	set.Rows = append(set.Rows, deletes...)
	set.NewHighWaterMark = newHWM
	return set, nil
}

// computeHash compares a server-computed hash of every row's data columns
// between source and destination, using HASHBYTES('SHA2_256', ...) over a
// CONCAT_WS of the columns with a sentinel for NULLs so a NULL-vs-empty
// difference is never masked by CONCAT_WS's null-skipping behavior.
func (c *Computer) computeHash(ctx context.Context, schema *catalog.TableSchema, pkCols []string, whereClause string) (Set, error) {
	dataCols := schema.DataColumns()
	hashExpr := hashExpression(dataCols)

	selectList := bracketedList(columnNames(dataCols))
	srcQ := fmt.Sprintf("SELECT %s, %s AS __row_hash__ FROM %s", selectList, hashExpr, schema.Ref.Bracketed())
	srcQ = applyWhere(srcQ, whereClause)
	srcQ += fmt.Sprintf(" ORDER BY %s", bracketedList(pkCols))

	srcRows, err := c.Source.QueryContext(ctx, srcQ)
	if err != nil {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
	}
	defer srcRows.Close()

	destHashes, err := c.destHashesByKey(ctx, schema, pkCols, whereClause)
	if err != nil {
		return Set{}, err
	}

	set := Set{Table: schema.Ref, Strategy: strategy.Hash}
	seen := make(map[string]bool, len(destHashes))

	for srcRows.Next() {
		vals, err := scanRow(srcRows, len(dataCols)+1)
		if err != nil {
			return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
		}
		rowVals := vals[:len(dataCols)]
		hash := vals[len(dataCols)]

		key := keyValues(dataCols, rowVals, pkCols)
		keyStr := keyString(key)
		seen[keyStr] = true

		destHash, exists := destHashes[keyStr]
		if !exists {
			set.Rows = append(set.Rows, Row{Op: OpInsert, Key: key, Values: rowVals})
			continue
		}
		if !hashesEqual(hash, destHash) {
			set.Rows = append(set.Rows, Row{Op: OpUpdate, Key: key, Values: rowVals})
		}
	}
	if err := srcRows.Err(); err != nil {
		return Set{}, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
	}

	for keyStr, key := range destHashes {
		_ = key
		if !seen[keyStr] {
			set.Rows = append(set.Rows, Row{Op: OpDelete, Key: destKeyFromString(keyStr)})
		}
	}
	return set, nil
}

// computeDeletes finds destination keys that no longer exist on the source,
// used by both rowversion strategies.
func (c *Computer) computeDeletes(ctx context.Context, schema *catalog.TableSchema, pkCols []string, whereClause string) ([]Row, error) {
	srcKeys, err := c.keySet(ctx, c.Source, schema.Ref, pkCols, whereClause)
	if err != nil {
		return nil, err
	}
	destKeys, err := c.keySet(ctx, c.Dest, schema.Ref, pkCols, whereClause)
	if err != nil {
		return nil, err
	}

	var out []Row
	for keyStr, key := range destKeys {
		if !srcKeys[keyStr] {
			out = append(out, Row{Op: OpDelete, Key: key})
		}
	}
	return out, nil
}

func (c *Computer) keySet(ctx context.Context, db *sql.DB, ref catalog.TableRef, pkCols []string, whereClause string) (map[string]bool, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", bracketedList(pkCols), ref.Bracketed())
	q = applyWhere(q, whereClause)

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, syncerrors.New(syncerrors.DeltaComputationFailed, ref.String(), err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		vals, err := scanRow(rows, len(pkCols))
		if err != nil {
			return nil, syncerrors.New(syncerrors.DeltaComputationFailed, ref.String(), err)
		}
		out[keyString(vals)] = true
	}
	return out, rows.Err()
}

func (c *Computer) destRowExists(ctx context.Context, ref catalog.TableRef, pkCols []string, key []any) (bool, error) {
	where := make([]string, len(pkCols))
	for i, col := range pkCols {
		where[i] = fmt.Sprintf("[%s] = @p%d", col, i+1)
	}
	q := fmt.Sprintf("SELECT 1 FROM %s WHERE %s", ref.Bracketed(), strings.Join(where, " AND "))
	row := c.Dest.QueryRowContext(ctx, q, key...)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, syncerrors.New(syncerrors.DeltaComputationFailed, ref.String(), err)
	}
	return true, nil
}

func (c *Computer) destHashesByKey(ctx context.Context, schema *catalog.TableSchema, pkCols []string, whereClause string) (map[string][]byte, error) {
	dataCols := schema.DataColumns()
	hashExpr := hashExpression(dataCols)
	q := fmt.Sprintf("SELECT %s, %s AS __row_hash__ FROM %s", bracketedList(pkCols), hashExpr, schema.Ref.Bracketed())
	q = applyWhere(q, whereClause)

	rows, err := c.Dest.QueryContext(ctx, q)
	if err != nil {
		return nil, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		vals, err := scanRow(rows, len(pkCols)+1)
		if err != nil {
			return nil, syncerrors.New(syncerrors.DeltaComputationFailed, schema.Ref.String(), err)
		}
		key := vals[:len(pkCols)]
		hash, _ := vals[len(pkCols)].([]byte)
		out[keyString(key)] = hash
	}
	return out, rows.Err()
}

// hashExpression builds HASHBYTES('SHA2_256', CONCAT_WS('|', ISNULL(CAST(col AS NVARCHAR(MAX)), N'__NULL__'), ...))
// so NULLs never collapse into CONCAT_WS's null-skipping behavior and
// collide with an empty string.
func hashExpression(cols []catalog.ColumnDesc) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("ISNULL(CAST([%s] AS NVARCHAR(MAX)), N'__NULL__')", c.Name)
	}
	return fmt.Sprintf("HASHBYTES('SHA2_256', CONCAT_WS('|', %s))", strings.Join(parts, ", "))
}

func applyWhere(q, whereClause string) string {
	if whereClause == "" {
		return q
	}
	if strings.Contains(q, " WHERE ") {
		return q + " AND (" + whereClause + ")"
	}
	return q + " WHERE (" + whereClause + ")"
}

func bracketedList(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("[%s]", c)
	}
	return strings.Join(parts, ", ")
}

func columnNames(cols []catalog.ColumnDesc) []string {
	return util.TransformSlice(cols, func(c catalog.ColumnDesc) string { return c.Name })
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func keyValues(cols []catalog.ColumnDesc, vals []any, pkCols []string) []any {
	key := make([]any, len(pkCols))
	for i, pk := range pkCols {
		for j, c := range cols {
			if strings.EqualFold(c.Name, pk) {
				key[i] = vals[j]
				break
			}
		}
	}
	return key
}

func rvValueOf(cols []catalog.ColumnDesc, vals []any, rvName string) ([]byte, bool) {
	for i, c := range cols {
		if strings.EqualFold(c.Name, rvName) {
			b, ok := vals[i].([]byte)
			return b, ok
		}
	}
	return nil, false
}

func rvBytesGreater(a, b []byte) bool {
	return strings.Compare(string(a), string(b)) > 0
}

// hashesEqual compares a hash value scanned as `any` (the driver returns
// VARBINARY as []byte, but the column came through a generic scan target)
// against a []byte already typed from a dedicated hash-map lookup.
func hashesEqual(a any, b []byte) bool {
	ab, _ := a.([]byte)
	return string(ab) == string(b)
}

func keyString(key []any) string {
	parts := make([]string, len(key))
	for i, v := range key {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f")
}

func destKeyFromString(s string) []any {
	parts := strings.Split(s, "\x1f")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}
