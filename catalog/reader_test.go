package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCharType(t *testing.T) {
	for _, t2 := range []string{"char", "varchar", "text", "nchar", "nvarchar", "ntext"} {
		assert.True(t, isCharType(t2), t2)
	}
	for _, t2 := range []string{"int", "decimal", "datetime2", "timestamp"} {
		assert.False(t, isCharType(t2), t2)
	}
}
