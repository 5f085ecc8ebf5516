package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRunConfig_EmptyDocReturnsDefaults(t *testing.T) {
	cfg, err := ParseRunConfig(nil)
	assert.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestParseRunConfig_OverridesSelectedFields(t *testing.T) {
	doc := []byte("batch_size: 500\nmax_parallel_tables: 2\n")
	cfg, err := ParseRunConfig(doc)
	assert.NoError(t, err)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 2, cfg.MaxParallelTables)
	assert.Equal(t, "dbo", cfg.LedgerSchema, "untouched fields should keep their defaults")
}

func TestParseRunConfig_RejectsUnknownFields(t *testing.T) {
	doc := []byte("not_a_real_field: 1\n")
	_, err := ParseRunConfig(doc)
	assert.Error(t, err)
}

func TestMerge_OverrideWinsFieldByField(t *testing.T) {
	base := Defaults()
	override := RunConfig{BatchSize: 10}
	got := Merge(base, override)
	assert.Equal(t, 10, got.BatchSize)
	assert.Equal(t, base.MaxParallelTables, got.MaxParallelTables)
}

func TestParseTableSyncConfigs_MarksUserSelectedAndDefaultsSchema(t *testing.T) {
	doc := []byte(`
- table: Customer
- schema: sales
  table: Order
  primary_key: [OrderId]
  where: "Region = 'US'"
`)
	configs, err := ParseTableSyncConfigs(doc)
	assert.NoError(t, err)
	assert.Len(t, configs, 2)

	assert.Equal(t, "dbo", configs[0].Schema)
	assert.True(t, configs[0].UserSelected)

	assert.Equal(t, "sales", configs[1].Schema)
	assert.Equal(t, "Region = 'US'", configs[1].WhereClause)
	assert.Equal(t, []string{"OrderId"}, configs[1].PrimaryKey)
}
