package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsSchemaAndTable(t *testing.T) {
	l := New(nil, "", "")
	assert.Equal(t, "[dbo].[SyncMetadata]", l.ref())
}

func TestNew_CustomSchemaAndTable(t *testing.T) {
	l := New(nil, "sync", "MirrorLedger")
	assert.Equal(t, "[sync].[MirrorLedger]", l.ref())
}
