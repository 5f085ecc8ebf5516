package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/delta"
)

func TestChunk_SplitsIntoBatches(t *testing.T) {
	rows := make([]delta.Row, 7)
	batches := chunk(rows, 3)
	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)
}

func TestChunk_Empty(t *testing.T) {
	assert.Empty(t, chunk(nil, 10))
}

func TestNonKeyColumns_ExcludesPrimaryKey(t *testing.T) {
	cols := []catalog.ColumnDesc{{Name: "Id"}, {Name: "Name"}, {Name: "Amount"}}
	got := nonKeyColumns(cols, []string{"Id"})
	assert.Len(t, got, 2)
	assert.Equal(t, "Name", got[0].Name)
	assert.Equal(t, "Amount", got[1].Name)
}

func TestValuesFor_PicksRequestedColumnsInOrder(t *testing.T) {
	dataCols := []catalog.ColumnDesc{{Name: "Id"}, {Name: "Name"}, {Name: "Amount"}}
	vals := []any{1, "Alice", 9.5}
	want := []catalog.ColumnDesc{{Name: "Amount"}, {Name: "Name"}}

	got := valuesFor(dataCols, vals, want)
	assert.Equal(t, []any{9.5, "Alice"}, got)
}

func TestHasIdentityColumn(t *testing.T) {
	s := &catalog.TableSchema{Columns: []catalog.ColumnDesc{{Name: "Id", Kind: catalog.IdentityColumn}}}
	assert.True(t, hasIdentityColumn(s))

	s2 := &catalog.TableSchema{Columns: []catalog.ColumnDesc{{Name: "Id", Kind: catalog.RegularColumn}}}
	assert.False(t, hasIdentityColumn(s2))
}

func TestPartition_SplitsByOp(t *testing.T) {
	rows := []delta.Row{
		{Op: delta.OpInsert},
		{Op: delta.OpDelete},
		{Op: delta.OpUpdate},
		{Op: delta.OpInsert},
	}
	deletes, updates, inserts := partition(rows)
	assert.Len(t, deletes, 1)
	assert.Len(t, updates, 1)
	assert.Len(t, inserts, 2)
}
