package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/ddl"
)

func schema(schemaName, name string, fks ...catalog.ForeignKeyDesc) *catalog.TableSchema {
	return &catalog.TableSchema{
		Ref:         catalog.TableRef{Schema: schemaName, Name: name},
		Columns:     []catalog.ColumnDesc{{Name: "Id", Kind: catalog.IdentityColumn, BaseType: "int"}},
		PrimaryKey:  catalog.KeyDesc{Columns: []string{"Id"}},
		ForeignKeys: fks,
	}
}

func fkTo(ref catalog.TableRef) catalog.ForeignKeyDesc {
	return catalog.ForeignKeyDesc{Name: "fk", Columns: []string{"RefId"}, RefTable: ref, RefColumns: []string{"Id"}}
}

func TestBuildLevels_IndependentTablesShareALevel(t *testing.T) {
	a := schema("dbo", "A")
	b := schema("dbo", "B")
	ordered := ddl.SortByDependencies([]*catalog.TableSchema{a, b})

	levels := buildLevels(ordered)
	assert.Len(t, levels, 1)
	assert.Len(t, levels[0], 2)
}

func TestBuildLevels_DependentTableIsInALaterLevel(t *testing.T) {
	customer := schema("dbo", "Customer")
	order := schema("dbo", "Order", fkTo(customer.Ref))
	ordered := ddl.SortByDependencies([]*catalog.TableSchema{order, customer})

	levels := buildLevels(ordered)
	assert.Len(t, levels, 2)
	assert.Equal(t, "Customer", levels[0][0].Ref.Name)
	assert.Equal(t, "Order", levels[1][0].Ref.Name)
}

func TestBuildLevels_CyclicTablesFormTheirOwnFinalLevel(t *testing.T) {
	a := schema("dbo", "A")
	b := schema("dbo", "B")
	a.ForeignKeys = []catalog.ForeignKeyDesc{fkTo(b.Ref)}
	b.ForeignKeys = []catalog.ForeignKeyDesc{fkTo(a.Ref)}

	ordered := ddl.SortByDependencies([]*catalog.TableSchema{a, b})
	levels := buildLevels(ordered)
	assert.Len(t, levels, 1)
	assert.Len(t, levels[0], 2)
}

func TestBuildDependencyGraph_ReportsCyclicTablesSeparately(t *testing.T) {
	customer := schema("dbo", "Customer")
	order := schema("dbo", "Order", fkTo(customer.Ref))
	a := schema("dbo", "A")
	b := schema("dbo", "B")
	a.ForeignKeys = []catalog.ForeignKeyDesc{fkTo(b.Ref)}
	b.ForeignKeys = []catalog.ForeignKeyDesc{fkTo(a.Ref)}

	graph, err := BuildDependencyGraph([]*catalog.TableSchema{order, customer, a, b})
	assert.NoError(t, err)
	assert.Len(t, graph.Cyclic, 2)
	assert.Len(t, graph.Levels, 3)
}
