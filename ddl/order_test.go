package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlmirror/tablemirror/catalog"
)

func table(schema, name string, fks ...catalog.ForeignKeyDesc) *catalog.TableSchema {
	return &catalog.TableSchema{
		Ref:         catalog.TableRef{Schema: schema, Name: name},
		Columns:     []catalog.ColumnDesc{{Name: "Id", Kind: catalog.IdentityColumn, BaseType: "int"}},
		PrimaryKey:  catalog.KeyDesc{Columns: []string{"Id"}},
		ForeignKeys: fks,
	}
}

func fk(name string, ref catalog.TableRef) catalog.ForeignKeyDesc {
	return catalog.ForeignKeyDesc{Name: name, Columns: []string{"RefId"}, RefTable: ref, RefColumns: []string{"Id"}}
}

func TestSortByDependencies_ReferencedBeforeReferencer(t *testing.T) {
	customer := table("dbo", "Customer")
	order := table("dbo", "Order", fk("FK_Order_Customer", customer.Ref))

	got := SortByDependencies([]*catalog.TableSchema{order, customer})
	assert.Len(t, got.Acyclic, 2)
	assert.Equal(t, "Customer", got.Acyclic[0].Ref.Name)
	assert.Equal(t, "Order", got.Acyclic[1].Ref.Name)
}

func TestSortByDependencies_MutualCycleIsSetAside(t *testing.T) {
	a := table("dbo", "A")
	b := table("dbo", "B")
	a.ForeignKeys = []catalog.ForeignKeyDesc{fk("FK_A_B", b.Ref)}
	b.ForeignKeys = []catalog.ForeignKeyDesc{fk("FK_B_A", a.Ref)}

	got := SortByDependencies([]*catalog.TableSchema{a, b})
	assert.Empty(t, got.Acyclic)
	assert.Len(t, got.Cyclic, 2)
}

func TestSortByDependencies_SelfReferenceIsNotACycle(t *testing.T) {
	tree := table("dbo", "Category")
	tree.ForeignKeys = []catalog.ForeignKeyDesc{fk("FK_Category_Parent", tree.Ref)}

	got := SortByDependencies([]*catalog.TableSchema{tree})
	assert.Len(t, got.Acyclic, 1)
	assert.Empty(t, got.Cyclic)
}

func TestSetStatements_AllForeignKeysComeAfterAllTables(t *testing.T) {
	customer := table("dbo", "Customer")
	order := table("dbo", "Order", fk("FK_Order_Customer", customer.Ref))

	stmts := SetStatements([]*catalog.TableSchema{order, customer})

	sawFK := false
	for _, s := range stmts {
		if s.Kind == "TABLE" {
			assert.False(t, sawFK, "found a TABLE statement after a FOREIGN KEY statement")
		}
		if s.Kind == "FOREIGN KEY" {
			sawFK = true
		}
	}
	assert.True(t, sawFK, "expected at least one FOREIGN KEY statement")
}
