package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlmirror/tablemirror/catalog"
)

func TestHashExpression_WrapsEachColumnWithNullSentinel(t *testing.T) {
	cols := []catalog.ColumnDesc{{Name: "Name"}, {Name: "Amount"}}
	got := hashExpression(cols)
	assert.Contains(t, got, "HASHBYTES('SHA2_256'")
	assert.Contains(t, got, "[Name]")
	assert.Contains(t, got, "[Amount]")
	assert.Contains(t, got, "__NULL__")
}

func TestApplyWhere_AddsWhereWhenAbsent(t *testing.T) {
	got := applyWhere("SELECT 1 FROM [dbo].[T]", "[Region] = 'US'")
	assert.Equal(t, "SELECT 1 FROM [dbo].[T] WHERE ([Region] = 'US')", got)
}

func TestApplyWhere_AndsOntoExistingWhere(t *testing.T) {
	got := applyWhere("SELECT 1 FROM [dbo].[T] WHERE [RV] > @p1", "[Region] = 'US'")
	assert.Equal(t, "SELECT 1 FROM [dbo].[T] WHERE [RV] > @p1 AND ([Region] = 'US')", got)
}

func TestApplyWhere_EmptyClauseIsNoOp(t *testing.T) {
	got := applyWhere("SELECT 1 FROM [dbo].[T]", "")
	assert.Equal(t, "SELECT 1 FROM [dbo].[T]", got)
}

func TestKeyStringRoundTrip(t *testing.T) {
	key := []any{"abc", "def"}
	s := keyString(key)
	back := destKeyFromString(s)
	assert.Equal(t, []any{"abc", "def"}, back)
}

func TestRvBytesGreater(t *testing.T) {
	a := []byte{0, 0, 0, 0, 0, 0, 0, 2}
	b := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	assert.True(t, rvBytesGreater(a, b))
	assert.False(t, rvBytesGreater(b, a))
}

func TestHashesEqual(t *testing.T) {
	var a any = []byte{1, 2, 3}
	b := []byte{1, 2, 3}
	assert.True(t, hashesEqual(a, b))
	assert.False(t, hashesEqual(a, []byte{1, 2, 4}))
}
