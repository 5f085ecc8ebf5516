package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleSchema() *TableSchema {
	return &TableSchema{
		Ref: TableRef{Schema: "dbo", Name: "Order"},
		Columns: []ColumnDesc{
			{Name: "Id", Kind: IdentityColumn, BaseType: "int"},
			{Name: "Total", Kind: ComputedColumn, ComputedExpr: "[Qty]*[Price]"},
			{Name: "RV", Kind: RowversionColumn, BaseType: "timestamp"},
			{Name: "CustomerId", Kind: RegularColumn, BaseType: "int"},
		},
		PrimaryKey: KeyDesc{Columns: []string{"Id"}},
	}
}

func TestTableRef_BracketedAndEqual(t *testing.T) {
	a := TableRef{Schema: "dbo", Name: "Order"}
	b := TableRef{Schema: "DBO", Name: "order"}
	assert.Equal(t, "[dbo].[Order]", a.Bracketed())
	assert.True(t, a.Equal(b))
}

func TestDataColumns_ExcludesComputedAndRowversion(t *testing.T) {
	got := sampleSchema().DataColumns()
	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"Id", "CustomerId"}, names)
}

func TestRowversionColumn_Found(t *testing.T) {
	c, ok := sampleSchema().RowversionColumn()
	assert.True(t, ok)
	assert.Equal(t, "RV", c.Name)
}

func TestEffectivePrimaryKey_PrefersOverride(t *testing.T) {
	cols, auto, err := sampleSchema().EffectivePrimaryKey([]string{"CustomerId"})
	assert.NoError(t, err)
	assert.False(t, auto)
	assert.Equal(t, []string{"CustomerId"}, cols)
}

func TestEffectivePrimaryKey_FallsBackToCatalogPK(t *testing.T) {
	cols, auto, err := sampleSchema().EffectivePrimaryKey(nil)
	assert.NoError(t, err)
	assert.True(t, auto)
	assert.Equal(t, []string{"Id"}, cols)
}

func TestEffectivePrimaryKey_OverrideColumnMustExist(t *testing.T) {
	_, _, err := sampleSchema().EffectivePrimaryKey([]string{"NoSuchColumn"})
	assert.Error(t, err)
}

func TestEffectivePrimaryKey_NoCatalogPKAndNoOverrideIsAnError(t *testing.T) {
	s := sampleSchema()
	s.PrimaryKey = KeyDesc{}
	_, _, err := s.EffectivePrimaryKey(nil)
	assert.Error(t, err)
}

func TestValidate_CatchesUnknownColumnInForeignKey(t *testing.T) {
	s := sampleSchema()
	s.ForeignKeys = []ForeignKeyDesc{{Name: "FK_bad", Columns: []string{"Missing"}, RefTable: TableRef{Schema: "dbo", Name: "Customer"}, RefColumns: []string{"Id"}}}
	assert.Error(t, s.Validate())
}

func TestValidate_PassesForConsistentSchema(t *testing.T) {
	assert.NoError(t, sampleSchema().Validate())
}
