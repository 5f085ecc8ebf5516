package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransformSlice(t *testing.T) {
	got := TransformSlice([]int{1, 2, 3}, func(n int) string { return string(rune('a' + n - 1)) })
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTransformSlice_Empty(t *testing.T) {
	got := TransformSlice([]int{}, func(n int) int { return n * 2 })
	assert.Empty(t, got)
}
