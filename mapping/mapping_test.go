package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvee-systems/replicant/mapping"
)

func TestInsertLookupSortedOrder(t *testing.T) {
	var tbl mapping.Table

	e1 := &mapping.Entry{RealBase: 0x2000, Length: 0x1000}
	e2 := &mapping.Entry{RealBase: 0x1000, Length: 0x1000}
	e3 := &mapping.Entry{RealBase: 0x3000, Length: 0x1000}

	require.NoError(t, tbl.Insert(e1))
	require.NoError(t, tbl.Insert(e2))
	require.NoError(t, tbl.Insert(e3))

	assert.Equal(t, 3, tbl.Len())
	assert.Same(t, e2, tbl.Lookup(0x1500))
	assert.Same(t, e1, tbl.Lookup(0x2500))
	assert.Same(t, e3, tbl.Lookup(0x3500))
	assert.Nil(t, tbl.Lookup(0x500))
	assert.Nil(t, tbl.Lookup(0x4500))
}

func TestInsertRejectsOverlap(t *testing.T) {
	var tbl mapping.Table
	require.NoError(t, tbl.Insert(&mapping.Entry{RealBase: 0x1000, Length: 0x2000}))

	err := tbl.Insert(&mapping.Entry{RealBase: 0x1800, Length: 0x1000})
	assert.ErrorIs(t, err, mapping.ErrOverlap)
	assert.Equal(t, 1, tbl.Len())
}

func TestRemoveRequiresExactLength(t *testing.T) {
	var tbl mapping.Table
	require.NoError(t, tbl.Insert(&mapping.Entry{RealBase: 0x1000, Length: 0x2000}))

	_, err := tbl.Remove(0x1000, 0x1000)
	assert.ErrorIs(t, err, mapping.ErrPartialUnmap)
	assert.Equal(t, 1, tbl.Len(), "a rejected partial unmap must not mutate the table")

	removed, err := tbl.Remove(0x1000, 0x2000)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1000, removed.RealBase)
	assert.Equal(t, 0, tbl.Len())
}

func TestRemoveNotFound(t *testing.T) {
	var tbl mapping.Table
	_, err := tbl.Remove(0x9999, 0x1000)
	assert.ErrorIs(t, err, mapping.ErrNotFound)
}

func TestGenerationIncrementsOnStructuralChange(t *testing.T) {
	var tbl mapping.Table
	g0 := tbl.Generation()

	e := &mapping.Entry{RealBase: 0x1000, Length: 0x1000}
	require.NoError(t, tbl.Insert(e))
	g1 := tbl.Generation()
	assert.Greater(t, g1, g0)

	_, err := tbl.Remove(0x1000, 0x1000)
	require.NoError(t, err)
	assert.Greater(t, tbl.Generation(), g1)
}

func TestHasShadow(t *testing.T) {
	withShadow := &mapping.Entry{RealBase: 0x1000, ShadowBase: 0x9000, Length: 0x100}
	noShadow := &mapping.Entry{RealBase: 0x2000, Length: 0x100}

	assert.True(t, withShadow.HasShadow())
	assert.False(t, noShadow.HasShadow())
}
