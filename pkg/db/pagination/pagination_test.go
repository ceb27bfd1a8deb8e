package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	p := Pagination{Page: 0, PageSize: 0}.Normalize()
	require.Equal(t, 1, p.Page)
	require.Equal(t, DefaultPageSize, p.PageSize)
	require.Equal(t, 0, p.Offset())

	p = Pagination{Page: 3, PageSize: 1000}.Normalize()
	require.Equal(t, MaxPageSize, p.PageSize)
	require.Equal(t, 2*MaxPageSize, p.Offset())
}

func TestNewPageNeverNil(t *testing.T) {
	page := NewPage[int](nil, 0, Pagination{Page: 1, PageSize: 10})
	require.NotNil(t, page.List)
	require.Empty(t, page.List)
}
