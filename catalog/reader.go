package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlmirror/tablemirror/syncerrors"
)

// Reader reads table structure from a live connection: given a TableRef,
// return the table's full structural description.
type Reader interface {
	TableExists(ctx context.Context, ref TableRef) (bool, error)
	ReadSchema(ctx context.Context, ref TableRef) (*TableSchema, error)
	Views(ctx context.Context) ([]ViewDesc, error)
}

// SQLServerReader implements Reader against sys.* catalog views, grounded
// on the same query shapes a mirroring tool would use to dump a table's
// structure (sys.columns/sys.types/sys.indexes/sys.foreign_keys).
type SQLServerReader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *SQLServerReader {
	return &SQLServerReader{db: db}
}

func (r *SQLServerReader) TableExists(ctx context.Context, ref TableRef) (bool, error) {
	const q = `SELECT 1 FROM sys.objects WHERE type = 'U' AND object_id = OBJECT_ID(@p1)`
	row := r.db.QueryRowContext(ctx, q, ref.Bracketed())
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}
	return true, nil
}

// ReadSchema populates a TableSchema by issuing one query per structural
// concern — columns, indexes, foreign keys queried independently, then
// assembled.
func (r *SQLServerReader) ReadSchema(ctx context.Context, ref TableRef) (*TableSchema, error) {
	exists, err := r.TableExists(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, syncerrors.New(syncerrors.TableNotFound, ref.String(), fmt.Errorf("table %s not found", ref))
	}

	schema := &TableSchema{Ref: ref}

	if schema.Columns, err = r.columns(ctx, ref); err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}
	if schema.PrimaryKey, schema.Indexes, err = r.indexesAndPK(ctx, ref); err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}
	if schema.UniqueConstraints, err = r.uniqueConstraints(ctx, ref); err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}
	if schema.ForeignKeys, err = r.foreignKeys(ctx, ref); err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}
	if schema.CheckConstraints, err = r.checkConstraints(ctx, ref); err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}
	if schema.Triggers, err = r.triggers(ctx, ref); err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}

	if err := schema.Validate(); err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, ref.String(), err)
	}
	slog.Debug("read table schema", "table", ref.String(), "columns", len(schema.Columns), "indexes", len(schema.Indexes))
	return schema, nil
}

const columnsQuery = `
SELECT
	c.column_id,
	c.name,
	tp.name AS type_name,
	c.max_length,
	c.precision,
	c.scale,
	c.is_nullable,
	c.is_identity,
	c.is_rowversion,
	c.collation_name,
	ic.seed_value,
	ic.increment_value,
	cc.definition AS computed_definition,
	cc.is_persisted,
	dc.name AS default_name,
	dc.definition AS default_definition
FROM sys.columns c
JOIN sys.types tp ON c.user_type_id = tp.user_type_id
LEFT JOIN sys.identity_columns ic ON c.object_id = ic.object_id AND c.column_id = ic.column_id
LEFT JOIN sys.computed_columns cc ON c.object_id = cc.object_id AND c.column_id = cc.column_id
LEFT JOIN sys.default_constraints dc ON c.object_id = dc.parent_object_id AND c.column_id = dc.parent_column_id
WHERE c.object_id = OBJECT_ID(@p1)
ORDER BY c.column_id`

func (r *SQLServerReader) columns(ctx context.Context, ref TableRef) ([]ColumnDesc, error) {
	rows, err := r.db.QueryContext(ctx, columnsQuery, ref.Bracketed())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ColumnDesc
	for rows.Next() {
		var (
			ordinal                        int
			name, typeName                 string
			maxLength, precision, scale    int
			nullable, isIdentity, isRV     bool
			collation                      sql.NullString
			seed, increment                sql.NullInt64
			computedDef                    sql.NullString
			isPersisted                    sql.NullBool
			defaultName, defaultDefinition sql.NullString
		)
		if err := rows.Scan(&ordinal, &name, &typeName, &maxLength, &precision, &scale,
			&nullable, &isIdentity, &isRV, &collation, &seed, &increment,
			&computedDef, &isPersisted, &defaultName, &defaultDefinition); err != nil {
			return nil, err
		}

		col := ColumnDesc{
			Ordinal:   ordinal,
			Name:      name,
			BaseType:  strings.ToLower(typeName),
			MaxLength: maxLength,
			Precision: precision,
			Scale:     scale,
			Nullable:  nullable,
			Collation: collation.String,
		}

		switch {
		case isRV:
			col.Kind = RowversionColumn
		case computedDef.Valid:
			col.Kind = ComputedColumn
			col.ComputedExpr = computedDef.String
			col.ComputedPersisted = isPersisted.Bool
		case isIdentity:
			col.Kind = IdentityColumn
			col.Identity = &IdentityDesc{Seed: seed.Int64, Increment: increment.Int64}
		default:
			col.Kind = RegularColumn
		}

		if defaultName.Valid {
			col.DefaultName = defaultName.String
			col.DefaultExpr = defaultDefinition.String
		}

		if !isCharType(col.BaseType) {
			col.Collation = ""
		}

		out = append(out, col)
	}
	return out, rows.Err()
}

func isCharType(baseType string) bool {
	switch baseType {
	case "char", "varchar", "text", "nchar", "nvarchar", "ntext":
		return true
	}
	return false
}

const indexesQuery = `
SELECT
	i.name,
	i.is_primary_key,
	i.is_unique,
	i.type_desc,
	i.filter_definition
FROM sys.indexes i
WHERE i.object_id = OBJECT_ID(@p1) AND i.name IS NOT NULL`

const indexColumnsQuery = `
SELECT
	i.name,
	COL_NAME(ic.object_id, ic.column_id),
	ic.is_descending_key,
	ic.is_included_column,
	ic.key_ordinal
FROM sys.indexes i
JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
WHERE i.object_id = OBJECT_ID(@p1) AND i.name IS NOT NULL
ORDER BY ic.key_ordinal`

// indexesAndPK reads every index on the table, splitting out the one that
// implements the PRIMARY KEY (identified by sys.indexes.is_primary_key, so
// it is never also emitted as a plain index).
func (r *SQLServerReader) indexesAndPK(ctx context.Context, ref TableRef) (KeyDesc, []IndexDesc, error) {
	rows, err := r.db.QueryContext(ctx, indexesQuery, ref.Bracketed())
	if err != nil {
		return KeyDesc{}, nil, err
	}
	type meta struct {
		primary bool
		unique  bool
		kind    IndexKind
		filter  *string
	}
	metas := map[string]meta{}
	order := []string{}
	for rows.Next() {
		var name, typeDesc string
		var isPK, isUnique bool
		var filter sql.NullString
		if err := rows.Scan(&name, &isPK, &isUnique, &typeDesc, &filter); err != nil {
			rows.Close()
			return KeyDesc{}, nil, err
		}
		kind := Nonclustered
		if strings.HasPrefix(typeDesc, "CLUSTERED") {
			kind = Clustered
		}
		m := meta{primary: isPK, unique: isUnique, kind: kind}
		if filter.Valid {
			f := filter.String
			m.filter = &f
		}
		metas[name] = m
		order = append(order, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return KeyDesc{}, nil, err
	}

	colRows, err := r.db.QueryContext(ctx, indexColumnsQuery, ref.Bracketed())
	if err != nil {
		return KeyDesc{}, nil, err
	}
	defer colRows.Close()

	keyCols := map[string][]IndexKeyColumn{}
	included := map[string][]string{}
	for colRows.Next() {
		var name, col string
		var desc, incl bool
		var ordinal int
		if err := colRows.Scan(&name, &col, &desc, &incl, &ordinal); err != nil {
			return KeyDesc{}, nil, err
		}
		if incl {
			included[name] = append(included[name], col)
		} else {
			keyCols[name] = append(keyCols[name], IndexKeyColumn{Name: col, Descending: desc})
		}
	}
	if err := colRows.Err(); err != nil {
		return KeyDesc{}, nil, err
	}

	var pk KeyDesc
	var indexes []IndexDesc
	for _, name := range order {
		m := metas[name]
		if m.primary {
			for _, kc := range keyCols[name] {
				pk.Columns = append(pk.Columns, kc.Name)
			}
			continue
		}
		indexes = append(indexes, IndexDesc{
			Name:     name,
			Kind:     m.kind,
			Unique:   m.unique,
			Key:      keyCols[name],
			Included: included[name],
			Filter:   m.filter,
		})
	}
	return pk, indexes, nil
}

const uniqueConstraintsQuery = `
SELECT
	kc.name,
	COL_NAME(ic.object_id, ic.column_id)
FROM sys.key_constraints kc
JOIN sys.index_columns ic ON kc.parent_object_id = ic.object_id AND kc.unique_index_id = ic.index_id
WHERE kc.parent_object_id = OBJECT_ID(@p1) AND kc.type = 'UQ'
ORDER BY kc.name, ic.key_ordinal`

func (r *SQLServerReader) uniqueConstraints(ctx context.Context, ref TableRef) ([]UniqueConstraintDesc, error) {
	rows, err := r.db.QueryContext(ctx, uniqueConstraintsQuery, ref.Bracketed())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order := []string{}
	byName := map[string][]string{}
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return nil, err
		}
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]UniqueConstraintDesc, 0, len(order))
	for _, name := range order {
		out = append(out, UniqueConstraintDesc{Name: name, Columns: byName[name]})
	}
	return out, nil
}

const foreignKeysQuery = `
SELECT
	f.name,
	COL_NAME(fc.parent_object_id, fc.parent_column_id),
	SCHEMA_NAME(ro.schema_id),
	ro.name,
	COL_NAME(fc.referenced_object_id, fc.referenced_column_id),
	f.update_referential_action_desc,
	f.delete_referential_action_desc,
	fc.constraint_column_id
FROM sys.foreign_keys f
JOIN sys.foreign_key_columns fc ON f.object_id = fc.constraint_object_id
JOIN sys.objects ro ON ro.object_id = f.referenced_object_id
WHERE f.parent_object_id = OBJECT_ID(@p1)
ORDER BY f.name, fc.constraint_column_id`

func (r *SQLServerReader) foreignKeys(ctx context.Context, ref TableRef) ([]ForeignKeyDesc, error) {
	rows, err := r.db.QueryContext(ctx, foreignKeysQuery, ref.Bracketed())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order := []string{}
	byName := map[string]*ForeignKeyDesc{}
	for rows.Next() {
		var name, col, refSchema, refTable, refCol, onUpdate, onDelete string
		var ordinal int
		if err := rows.Scan(&name, &col, &refSchema, &refTable, &refCol, &onUpdate, &onDelete, &ordinal); err != nil {
			return nil, err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &ForeignKeyDesc{
				Name:     name,
				RefTable: TableRef{Schema: refSchema, Name: refTable},
				OnUpdate: strings.ReplaceAll(onUpdate, "_", " "),
				OnDelete: strings.ReplaceAll(onDelete, "_", " "),
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, col)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]ForeignKeyDesc, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

const checkConstraintsQuery = `
SELECT cc.name, cc.definition
FROM sys.check_constraints cc
WHERE cc.parent_object_id = OBJECT_ID(@p1) AND cc.parent_column_id = 0`

func (r *SQLServerReader) checkConstraints(ctx context.Context, ref TableRef) ([]CheckConstraintDesc, error) {
	rows, err := r.db.QueryContext(ctx, checkConstraintsQuery, ref.Bracketed())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckConstraintDesc
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}
		out = append(out, CheckConstraintDesc{Name: name, Expression: def})
	}
	return out, rows.Err()
}

const triggersQuery = `
SELECT
	tr.name,
	tr.is_instead_of_trigger,
	OBJECTPROPERTY(tr.object_id, 'ExecIsInsertTrigger'),
	OBJECTPROPERTY(tr.object_id, 'ExecIsUpdateTrigger'),
	OBJECTPROPERTY(tr.object_id, 'ExecIsDeleteTrigger'),
	m.definition
FROM sys.triggers tr
JOIN sys.sql_modules m ON m.object_id = tr.object_id
WHERE tr.parent_id = OBJECT_ID(@p1) AND tr.is_ms_shipped = 0`

func (r *SQLServerReader) triggers(ctx context.Context, ref TableRef) ([]TriggerDesc, error) {
	rows, err := r.db.QueryContext(ctx, triggersQuery, ref.Bracketed())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TriggerDesc
	for rows.Next() {
		var name, body string
		var insteadOf bool
		var isInsert, isUpdate, isDelete int
		if err := rows.Scan(&name, &insteadOf, &isInsert, &isUpdate, &isDelete, &body); err != nil {
			return nil, err
		}
		t := TriggerDesc{Name: name, Body: body}
		if insteadOf {
			t.Timing = InsteadOf
		} else {
			t.Timing = After
		}
		if isInsert == 1 {
			t.Events = append(t.Events, OnInsert)
		}
		if isUpdate == 1 {
			t.Events = append(t.Events, OnUpdate)
		}
		if isDelete == 1 {
			t.Events = append(t.Events, OnDelete)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const viewsQuery = `
SELECT SCHEMA_NAME(v.schema_id) + '.' + v.name, m.definition
FROM sys.views v
JOIN sys.sql_modules m ON m.object_id = v.object_id`

// Views reads every view definition visible in the current database, for
// informational capture alongside table structure.
func (r *SQLServerReader) Views(ctx context.Context) ([]ViewDesc, error) {
	rows, err := r.db.QueryContext(ctx, viewsQuery)
	if err != nil {
		return nil, syncerrors.New(syncerrors.CatalogQueryFailed, "", err)
	}
	defer rows.Close()

	var out []ViewDesc
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, syncerrors.New(syncerrors.CatalogQueryFailed, "", err)
		}
		out = append(out, ViewDesc{Name: name, Definition: strings.TrimSpace(def)})
	}
	return out, rows.Err()
}
