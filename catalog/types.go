// Package catalog models SQL Server table structure and reads it from
// sys.* catalog views.
package catalog

import (
	"fmt"
	"strings"
)

// TableRef identifies a table by schema and name. Case is preserved for
// rendering but comparisons are case-insensitive, matching SQL Server's
// default collation behavior for identifiers.
type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) String() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

func (t TableRef) Equal(other TableRef) bool {
	return strings.EqualFold(t.Schema, other.Schema) && strings.EqualFold(t.Name, other.Name)
}

// Bracketed renders the ref as SQL Server's [schema].[name] identifier form.
func (t TableRef) Bracketed() string {
	return fmt.Sprintf("[%s].[%s]", t.Schema, t.Name)
}

// ColumnKind tags which rendering/behavior rules a column follows. Using an
// exhaustive enum here (rather than "which optional field is non-nil") means
// the DDL emitter's switch over Kind can cover all four cases explicitly and
// panic in its default branch on a new kind that isn't handled yet.
type ColumnKind int

const (
	RegularColumn ColumnKind = iota
	IdentityColumn
	ComputedColumn
	RowversionColumn
)

func (k ColumnKind) String() string {
	switch k {
	case RegularColumn:
		return "regular"
	case IdentityColumn:
		return "identity"
	case ComputedColumn:
		return "computed"
	case RowversionColumn:
		return "rowversion"
	default:
		return "unknown"
	}
}

// IdentityDesc carries IDENTITY(seed,increment) parameters.
type IdentityDesc struct {
	Seed      int64
	Increment int64
}

// ColumnDesc describes one column as read from sys.columns/sys.types.
type ColumnDesc struct {
	Ordinal  int
	Name     string
	Kind     ColumnKind
	BaseType string // e.g. "nvarchar", "decimal", "int"

	// Size facets; meaning depends on BaseType. MaxLength of -1 means MAX.
	MaxLength int
	Precision int
	Scale     int

	Nullable bool

	// Collation is only meaningful for character types and is always
	// populated when present, emitted for fidelity rather than only when
	// it differs from the database default.
	Collation string

	Identity *IdentityDesc // non-nil only when Kind == IdentityColumn

	ComputedExpr      string // non-empty only when Kind == ComputedColumn
	ComputedPersisted bool

	DefaultName string // constraint name, empty if no default
	DefaultExpr string
}

// KeyDesc is an ordered list of column names forming a key.
type KeyDesc struct {
	Columns []string
}

func (k KeyDesc) Empty() bool { return len(k.Columns) == 0 }

// UniqueConstraintDesc names one UNIQUE constraint and its ordered columns.
type UniqueConstraintDesc struct {
	Name    string
	Columns []string
}

// IndexKeyColumn is one column participating in an index's key, with sort
// direction.
type IndexKeyColumn struct {
	Name       string
	Descending bool
}

type IndexKind int

const (
	Nonclustered IndexKind = iota
	Clustered
)

// IndexDesc describes a non-PK index (the PK's own supporting index is
// represented by KeyDesc instead and never duplicated here; the Catalog
// Reader sets it aside using sys.indexes.is_primary_key).
type IndexDesc struct {
	Name     string
	Kind     IndexKind
	Unique   bool
	Key      []IndexKeyColumn
	Included []string
	Filter   *string
}

// ForeignKeyDesc describes one FOREIGN KEY constraint.
type ForeignKeyDesc struct {
	Name       string
	Columns    []string
	RefTable   TableRef
	RefColumns []string
	OnDelete   string // e.g. "NO ACTION", "CASCADE", "SET NULL", "SET DEFAULT"
	OnUpdate   string
}

// CheckConstraintDesc stores a CHECK constraint's expression verbatim, as
// returned by the catalog.
type CheckConstraintDesc struct {
	Name       string
	Expression string
}

type TriggerTiming int

const (
	After TriggerTiming = iota
	InsteadOf
)

type TriggerEvent string

const (
	OnInsert TriggerEvent = "INSERT"
	OnUpdate TriggerEvent = "UPDATE"
	OnDelete TriggerEvent = "DELETE"
)

// TriggerDesc holds a trigger's full body text as one blob, matching how
// sys.sql_modules.definition is returned.
type TriggerDesc struct {
	Name   string
	Timing TriggerTiming
	Events []TriggerEvent
	Body   string
}

// ViewDesc is an additive, informational capture of a view definition.
// Views are read for information only: nothing in this module re-creates
// them on the destination, and they never participate in row-level delta
// sync.
type ViewDesc struct {
	Name       string
	Definition string
}

// TableSchema is the full structural description of one table.
type TableSchema struct {
	Ref               TableRef
	Columns           []ColumnDesc
	PrimaryKey        KeyDesc
	UniqueConstraints []UniqueConstraintDesc
	Indexes           []IndexDesc
	ForeignKeys       []ForeignKeyDesc
	CheckConstraints  []CheckConstraintDesc
	Triggers          []TriggerDesc
}

// ColumnNames returns the ordered list of all column names.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnByName looks up a column, or returns (ColumnDesc{}, false).
func (s *TableSchema) ColumnByName(name string) (ColumnDesc, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnDesc{}, false
}

// RowversionColumn returns the table's single rowversion column, if any.
// SQL Server permits at most one per table.
func (s *TableSchema) RowversionColumn() (ColumnDesc, bool) {
	for _, c := range s.Columns {
		if c.Kind == RowversionColumn {
			return c, true
		}
	}
	return ColumnDesc{}, false
}

// DataColumns returns every column except computed and rowversion columns —
// the set the batch applier writes and the hash strategy hashes, since
// neither can be assigned a value directly.
func (s *TableSchema) DataColumns() []ColumnDesc {
	var out []ColumnDesc
	for _, c := range s.Columns {
		if c.Kind == ComputedColumn || c.Kind == RowversionColumn {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Validate enforces the invariant that every column referenced by the
// primary key, a unique constraint, an index or a foreign key exists in the
// column list. CHECK constraint expressions are not inspected.
func (s *TableSchema) Validate() error {
	names := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		names[strings.ToLower(c.Name)] = true
	}
	missing := func(context, col string) error {
		return fmt.Errorf("table %s: %s references unknown column %q", s.Ref, context, col)
	}
	for _, c := range s.PrimaryKey.Columns {
		if !names[strings.ToLower(c)] {
			return missing("primary key", c)
		}
	}
	for _, u := range s.UniqueConstraints {
		for _, c := range u.Columns {
			if !names[strings.ToLower(c)] {
				return missing(fmt.Sprintf("unique constraint %s", u.Name), c)
			}
		}
	}
	for _, idx := range s.Indexes {
		for _, c := range idx.Key {
			if !names[strings.ToLower(c.Name)] {
				return missing(fmt.Sprintf("index %s", idx.Name), c.Name)
			}
		}
		for _, c := range idx.Included {
			if !names[strings.ToLower(c)] {
				return missing(fmt.Sprintf("index %s (included)", idx.Name), c)
			}
		}
	}
	for _, fk := range s.ForeignKeys {
		for _, c := range fk.Columns {
			if !names[strings.ToLower(c)] {
				return missing(fmt.Sprintf("foreign key %s", fk.Name), c)
			}
		}
	}
	return nil
}

// EffectivePrimaryKey resolves the PK used for delta computation: an
// override (if supplied and every column exists) wins over the catalog PK.
func (s *TableSchema) EffectivePrimaryKey(override []string) (cols []string, autoDetected bool, err error) {
	if len(override) > 0 {
		for _, c := range override {
			if _, ok := s.ColumnByName(c); !ok {
				return nil, false, fmt.Errorf("primary key override column %q does not exist on table %s", c, s.Ref)
			}
		}
		return override, false, nil
	}
	if s.PrimaryKey.Empty() {
		return nil, false, fmt.Errorf("table %s has no primary key and no override was supplied", s.Ref)
	}
	return s.PrimaryKey.Columns, true, nil
}
