// Package ddl renders catalog.TableSchema values into ordered CREATE
// statements for the destination, driven by exhaustive switches over
// catalog.ColumnKind instead of string concatenation over loosely-typed
// fields, so a new column kind hits a panicking default branch here until
// handled.
package ddl

import (
	"fmt"
	"strings"

	"github.com/sqlmirror/tablemirror/catalog"
)

// Statement is one DDL statement to run against the destination, tagged
// with the kind of object it creates so the orchestrator can log/report
// per-object progress.
type Statement struct {
	Kind string // "TABLE", "UNIQUE", "INDEX", "CHECK", "FOREIGN KEY", "TRIGGER"
	SQL  string
}

// TableStatements renders the full single-table ordering rule: CREATE TABLE
// (columns, then the PK as its own constraint clause inside the same
// CREATE TABLE), then UNIQUE, then non-PK indexes, then CHECK constraints,
// then FOREIGN KEY constraints, then triggers.
//
// deferForeignKeys, when true, omits FOREIGN KEY clauses entirely from the
// returned statements (both inline and as ALTER) — the caller is
// responsible for appending ForeignKeyStatements once every table in the
// set has been created, breaking any foreign-key cycle across tables.
func TableStatements(s *catalog.TableSchema, deferForeignKeys bool) []Statement {
	var out []Statement
	out = append(out, CoreStatements(s, true)...)
	if !deferForeignKeys {
		out = append(out, ForeignKeyStatements(s)...)
	}
	out = append(out, TriggerStatements(s)...)
	return out
}

// CoreStatements renders CREATE TABLE, UNIQUE, INDEX and CHECK — everything
// but foreign keys and triggers. deferForeignKeys controls whether the FK
// clauses appear inline in the CREATE TABLE itself.
func CoreStatements(s *catalog.TableSchema, deferForeignKeys bool) []Statement {
	var out []Statement
	out = append(out, Statement{Kind: "TABLE", SQL: createTableSQL(s, deferForeignKeys)})

	for _, u := range s.UniqueConstraints {
		out = append(out, Statement{Kind: "UNIQUE", SQL: addUniqueSQL(s.Ref, u)})
	}
	for _, idx := range s.Indexes {
		out = append(out, Statement{Kind: "INDEX", SQL: createIndexSQL(s.Ref, idx)})
	}
	for _, chk := range s.CheckConstraints {
		out = append(out, Statement{Kind: "CHECK", SQL: addCheckSQL(s.Ref, chk)})
	}
	return out
}

// ForeignKeyStatements renders every foreign key as a standalone ALTER
// TABLE ... ADD CONSTRAINT statement.
func ForeignKeyStatements(s *catalog.TableSchema) []Statement {
	var out []Statement
	for _, fk := range s.ForeignKeys {
		out = append(out, Statement{Kind: "FOREIGN KEY", SQL: addForeignKeySQL(s.Ref, fk)})
	}
	return out
}

// TriggerStatements renders every trigger body, emitted last since trigger
// bodies may reference objects not yet created.
func TriggerStatements(s *catalog.TableSchema) []Statement {
	var out []Statement
	for _, trg := range s.Triggers {
		out = append(out, Statement{Kind: "TRIGGER", SQL: trg.Body})
	}
	return out
}

func createTableSQL(s *catalog.TableSchema, deferForeignKeys bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", s.Ref.Bracketed())

	for i, col := range s.Columns {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n    ")
		b.WriteString(renderColumn(col))
	}

	if !s.PrimaryKey.Empty() {
		b.WriteString(",\n    ")
		fmt.Fprintf(&b, "CONSTRAINT [PK_%s] PRIMARY KEY CLUSTERED (%s)", s.Ref.Name, bracketedList(s.PrimaryKey.Columns))
	}

	if !deferForeignKeys {
		for _, fk := range s.ForeignKeys {
			b.WriteString(",\n    ")
			b.WriteString(foreignKeyClause(fk))
		}
	}

	b.WriteString("\n);")
	return b.String()
}

// renderColumn switches exhaustively over catalog.ColumnKind: every kind
// gets an explicit branch, so a new kind added later panics here until
// handled.
func renderColumn(c catalog.ColumnDesc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", c.Name)

	switch c.Kind {
	case catalog.RowversionColumn:
		b.WriteString("ROWVERSION")
	case catalog.ComputedColumn:
		fmt.Fprintf(&b, "AS (%s)", c.ComputedExpr)
		if c.ComputedPersisted {
			b.WriteString(" PERSISTED")
		}
	case catalog.RegularColumn, catalog.IdentityColumn:
		b.WriteString(typeString(c))
		if c.Collation != "" {
			fmt.Fprintf(&b, " COLLATE %s", c.Collation)
		}
		if c.Nullable {
			b.WriteString(" NULL")
		} else {
			b.WriteString(" NOT NULL")
		}
		if c.Kind == catalog.IdentityColumn && c.Identity != nil {
			fmt.Fprintf(&b, " IDENTITY(%d,%d)", c.Identity.Seed, c.Identity.Increment)
		}
		if c.DefaultExpr != "" {
			if c.DefaultName != "" {
				fmt.Fprintf(&b, " CONSTRAINT [%s] DEFAULT %s", c.DefaultName, c.DefaultExpr)
			} else {
				fmt.Fprintf(&b, " DEFAULT %s", c.DefaultExpr)
			}
		}
	default:
		panic(fmt.Sprintf("ddl: unhandled column kind %v for column %s", c.Kind, c.Name))
	}

	return b.String()
}

// typeString reproduces the catalog form exactly, e.g. NVARCHAR(128),
// DECIMAL(18,4), VARBINARY(MAX).
func typeString(c catalog.ColumnDesc) string {
	t := strings.ToUpper(c.BaseType)
	switch c.BaseType {
	case "char", "varchar", "binary", "varbinary":
		if c.MaxLength == -1 {
			return t + "(MAX)"
		}
		return fmt.Sprintf("%s(%d)", t, c.MaxLength)
	case "nchar", "nvarchar":
		if c.MaxLength == -1 {
			return t + "(MAX)"
		}
		return fmt.Sprintf("%s(%d)", t, c.MaxLength/2)
	case "decimal", "numeric":
		return fmt.Sprintf("%s(%d,%d)", t, c.Precision, c.Scale)
	case "datetime2", "datetimeoffset", "time":
		if c.Scale == 7 {
			return t // default scale, omit
		}
		return fmt.Sprintf("%s(%d)", t, c.Scale)
	case "float":
		return fmt.Sprintf("%s(%d)", t, c.Precision)
	default:
		return t
	}
}

func bracketedList(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("[%s]", c)
	}
	return strings.Join(parts, ", ")
}

func addUniqueSQL(ref catalog.TableRef, u catalog.UniqueConstraintDesc) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT [%s] UNIQUE (%s);", ref.Bracketed(), u.Name, bracketedList(u.Columns))
}

func createIndexSQL(ref catalog.TableRef, idx catalog.IndexDesc) string {
	var b strings.Builder
	b.WriteString("CREATE")
	if idx.Unique {
		b.WriteString(" UNIQUE")
	}
	if idx.Kind == catalog.Clustered {
		b.WriteString(" CLUSTERED")
	} else {
		b.WriteString(" NONCLUSTERED")
	}
	fmt.Fprintf(&b, " INDEX [%s] ON %s (", idx.Name, ref.Bracketed())
	for i, kc := range idx.Key {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "[%s]", kc.Name)
		if kc.Descending {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	b.WriteString(")")
	if len(idx.Included) > 0 {
		fmt.Fprintf(&b, " INCLUDE (%s)", bracketedList(idx.Included))
	}
	if idx.Filter != nil {
		fmt.Fprintf(&b, " WHERE %s", *idx.Filter)
	}
	b.WriteString(";")
	return b.String()
}

func addCheckSQL(ref catalog.TableRef, chk catalog.CheckConstraintDesc) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT [%s] CHECK %s;", ref.Bracketed(), chk.Name, chk.Expression)
}

func foreignKeyClause(fk catalog.ForeignKeyDesc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONSTRAINT [%s] FOREIGN KEY (%s) REFERENCES %s (%s)",
		fk.Name, bracketedList(fk.Columns), fk.RefTable.Bracketed(), bracketedList(fk.RefColumns))
	if fk.OnDelete != "" && !strings.EqualFold(fk.OnDelete, "no action") {
		fmt.Fprintf(&b, " ON DELETE %s", fk.OnDelete)
	}
	if fk.OnUpdate != "" && !strings.EqualFold(fk.OnUpdate, "no action") {
		fmt.Fprintf(&b, " ON UPDATE %s", fk.OnUpdate)
	}
	return b.String()
}

func addForeignKeySQL(ref catalog.TableRef, fk catalog.ForeignKeyDesc) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s;", ref.Bracketed(), foreignKeyClause(fk))
}
