package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/ledger"
)

func schemaWithRowversion() *catalog.TableSchema {
	return &catalog.TableSchema{
		Ref: catalog.TableRef{Schema: "dbo", Name: "Order"},
		Columns: []catalog.ColumnDesc{
			{Name: "Id", Kind: catalog.IdentityColumn, BaseType: "int"},
			{Name: "RV", Kind: catalog.RowversionColumn, BaseType: "timestamp"},
		},
	}
}

func schemaWithoutRowversion() *catalog.TableSchema {
	return &catalog.TableSchema{
		Ref:     catalog.TableRef{Schema: "dbo", Name: "Customer"},
		Columns: []catalog.ColumnDesc{{Name: "Id", Kind: catalog.IdentityColumn, BaseType: "int"}},
	}
}

func TestSelect_NoRowversionColumn_UsesHash(t *testing.T) {
	got := Select(schemaWithoutRowversion(), ledger.Entry{}, false)
	assert.Equal(t, Hash, got)
}

func TestSelect_RowversionFirstRun_UsesRowversionInitial(t *testing.T) {
	got := Select(schemaWithRowversion(), ledger.Entry{}, false)
	assert.Equal(t, RowversionInitial, got)
}

func TestSelect_RowversionPriorEntryWithNoHighWaterMark_UsesRowversionInitial(t *testing.T) {
	got := Select(schemaWithRowversion(), ledger.Entry{Status: ledger.StatusOK, RowversionColumn: "RV"}, true)
	assert.Equal(t, RowversionInitial, got)
}

func TestSelect_RowversionWithPriorHighWaterMark_UsesRowversion(t *testing.T) {
	entry := ledger.Entry{RowversionColumn: "RV", HighWaterMark: []byte{0, 0, 0, 0, 0, 0, 0, 1}}
	got := Select(schemaWithRowversion(), entry, true)
	assert.Equal(t, Rowversion, got)
}

func TestSelect_RowversionColumnRenamed_UsesRowversionInitial(t *testing.T) {
	entry := ledger.Entry{RowversionColumn: "OldRV", HighWaterMark: []byte{0, 0, 0, 0, 0, 0, 0, 1}}
	got := Select(schemaWithRowversion(), entry, true)
	assert.Equal(t, RowversionInitial, got)
}
