package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlmirror/tablemirror/catalog"
)

func sampleCustomer() *catalog.TableSchema {
	return &catalog.TableSchema{
		Ref: catalog.TableRef{Schema: "dbo", Name: "Customer"},
		Columns: []catalog.ColumnDesc{
			{Ordinal: 1, Name: "Id", Kind: catalog.IdentityColumn, BaseType: "int", Nullable: false, Identity: &catalog.IdentityDesc{Seed: 1, Increment: 1}},
			{Ordinal: 2, Name: "Name", Kind: catalog.RegularColumn, BaseType: "nvarchar", MaxLength: 200, Nullable: true, Collation: "SQL_Latin1_General_CP1_CI_AS"},
			{Ordinal: 3, Name: "RV", Kind: catalog.RowversionColumn, BaseType: "timestamp"},
		},
		PrimaryKey: catalog.KeyDesc{Columns: []string{"Id"}},
	}
}

func TestCreateTableSQL_RendersAllColumnKinds(t *testing.T) {
	s := sampleCustomer()
	stmts := TableStatements(s, false)
	assert.NotEmpty(t, stmts)
	assert.Equal(t, "TABLE", stmts[0].Kind)
	sql := stmts[0].SQL

	for _, want := range []string{
		"CREATE TABLE [dbo].[Customer]",
		"[Id] INT NOT NULL IDENTITY(1,1)",
		"[Name] NVARCHAR(100) COLLATE SQL_Latin1_General_CP1_CI_AS NULL",
		"[RV] ROWVERSION",
		"CONSTRAINT [PK_Customer] PRIMARY KEY CLUSTERED ([Id])",
	} {
		assert.Contains(t, sql, want)
	}
}

func TestRenderColumn_ComputedColumnNeverGetsAType(t *testing.T) {
	c := catalog.ColumnDesc{Name: "Total", Kind: catalog.ComputedColumn, ComputedExpr: "[Qty]*[Price]", ComputedPersisted: true}
	got := renderColumn(c)
	assert.Equal(t, "[Total] AS ([Qty]*[Price]) PERSISTED", got)
}

func TestTypeString_MaxLength(t *testing.T) {
	cases := []struct {
		name string
		col  catalog.ColumnDesc
		want string
	}{
		{"varchar max", catalog.ColumnDesc{BaseType: "varchar", MaxLength: -1}, "VARCHAR(MAX)"},
		{"nvarchar max", catalog.ColumnDesc{BaseType: "nvarchar", MaxLength: -1}, "NVARCHAR(MAX)"},
		{"nvarchar length halved", catalog.ColumnDesc{BaseType: "nvarchar", MaxLength: 256}, "NVARCHAR(128)"},
		{"decimal precision/scale", catalog.ColumnDesc{BaseType: "decimal", Precision: 18, Scale: 4}, "DECIMAL(18,4)"},
		{"plain int", catalog.ColumnDesc{BaseType: "int"}, "INT"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, typeString(c.col))
		})
	}
}

func TestForeignKeyClause_OmitsNoAction(t *testing.T) {
	fk := catalog.ForeignKeyDesc{
		Name:       "FK_Order_Customer",
		Columns:    []string{"CustomerId"},
		RefTable:   catalog.TableRef{Schema: "dbo", Name: "Customer"},
		RefColumns: []string{"Id"},
		OnDelete:   "NO ACTION",
		OnUpdate:   "CASCADE",
	}
	got := foreignKeyClause(fk)
	assert.NotContains(t, got, "ON DELETE")
	assert.Contains(t, got, "ON UPDATE CASCADE")
}

func TestTableStatements_DeferForeignKeys_OmitsFKEntirely(t *testing.T) {
	s := sampleCustomer()
	s.ForeignKeys = []catalog.ForeignKeyDesc{{
		Name: "FK_self", Columns: []string{"Id"},
		RefTable: s.Ref, RefColumns: []string{"Id"},
	}}
	stmts := TableStatements(s, true)
	for _, stmt := range stmts {
		assert.NotEqual(t, "FOREIGN KEY", stmt.Kind)
	}
}
