package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	assert.Len(t, Catalog, 24)

	m, ok := LookupMethod("textDocument/hover")
	require.True(t, ok)
	assert.Equal(t, RolePosition, m.Role)

	m, ok = LookupMethod(MethodInitialize)
	require.True(t, ok)
	assert.Equal(t, RoleLifecycle, m.Role)

	m, ok = LookupMethod("workspace/symbol")
	require.True(t, ok)
	assert.Equal(t, RoleWorkspace, m.Role)

	_, ok = LookupMethod("textDocument/unheardOf")
	assert.False(t, ok)
}

func TestExpandMethods(t *testing.T) {
	t.Run("empty selects the full catalog", func(t *testing.T) {
		methods, err := ExpandMethods(nil)
		require.NoError(t, err)
		assert.Len(t, methods, len(Catalog))
	})

	t.Run("all selects the full catalog", func(t *testing.T) {
		methods, err := ExpandMethods([]string{"textDocument/hover", "all"})
		require.NoError(t, err)
		assert.Len(t, methods, len(Catalog))
	})

	t.Run("explicit list keeps configured order", func(t *testing.T) {
		methods, err := ExpandMethods([]string{"textDocument/hover", "initialize"})
		require.NoError(t, err)
		require.Len(t, methods, 2)
		assert.Equal(t, "textDocument/hover", methods[0].Name)
		assert.Equal(t, "initialize", methods[1].Name)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		methods, err := ExpandMethods([]string{"initialize", "initialize"})
		require.NoError(t, err)
		assert.Len(t, methods, 1)
	})

	t.Run("unknown name fails", func(t *testing.T) {
		_, err := ExpandMethods([]string{"textDocument/unheardOf"})
		assert.Error(t, err)
	})
}
