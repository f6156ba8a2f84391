package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	id, err := Decode(Encode(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
}

func TestDecode_Empty(t *testing.T) {
	id, err := Decode("")
	assert.NoError(t, err)
	assert.Zero(t, id)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{"!!!", "Zm9vOjE", Encode(0)} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 0, ClampLimit(""))
	assert.Equal(t, 0, ClampLimit("-3"))
	assert.Equal(t, 10, ClampLimit("10"))
	assert.Equal(t, MaxLimit, ClampLimit("100000"))
}

func TestComputePage(t *testing.T) {
	ids := []uint64{1, 2, 3}
	key := func(v uint64) uint64 { return v }

	page, next := ComputePage(ids, 2, key)
	assert.Equal(t, []uint64{1, 2}, page)
	assert.Equal(t, Encode(2), next)

	page, next = ComputePage(ids, 3, key)
	assert.Len(t, page, 3)
	assert.Empty(t, next)

	page, next = ComputePage(ids, 0, key)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
}
