package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_NumElements(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
	}{
		{Shape{}, 1},
		{Shape{10}, 10},
		{Shape{2, 3, 4}, 24},
		{Shape{2, 0}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.shape.NumElements(), "shape %v", tt.shape)
	}
}

func TestNew_RejectsBadShape(t *testing.T) {
	_, err := New(Float64, Shape{3, -1})
	assert.ErrorContains(t, err, "invalid dimension")
}

func TestFull(t *testing.T) {
	x, err := Full(Float64, Shape{10}, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, x.Len())
	for _, v := range x.Data() {
		assert.Equal(t, 2.0, v)
	}
}

func TestFromSlice(t *testing.T) {
	t.Run("copies data", func(t *testing.T) {
		src := []float64{1, 2, 3, 4}
		x, err := FromSlice(Float64, Shape{2, 2}, src)
		require.NoError(t, err)
		src[0] = 100
		assert.Equal(t, []float64{1, 2, 3, 4}, x.Data())
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := FromSlice(Float64, Shape{3}, []float64{1, 2})
		assert.ErrorContains(t, err, "needs 3")
	})

	t.Run("float32 rounds", func(t *testing.T) {
		x, err := FromSlice(Float32, Shape{1}, []float64{0.1})
		require.NoError(t, err)
		assert.Equal(t, float64(float32(0.1)), x.Data()[0])
	})
}

func TestCAdd(t *testing.T) {
	a, _ := Full(Float64, Shape{4}, 2)
	b, _ := Full(Float64, Shape{4}, 3)

	t.Run("fresh destination", func(t *testing.T) {
		dst, _ := New(Float64, Shape{4})
		require.NoError(t, CAdd(dst, a, 2, b))
		assert.Equal(t, []float64{8, 8, 8, 8}, dst.Data())
		assert.Equal(t, []float64{2, 2, 2, 2}, a.Data())
	})

	t.Run("aliased destination", func(t *testing.T) {
		x := a.Clone()
		require.NoError(t, CAdd(x, x, 1, b))
		assert.Equal(t, []float64{5, 5, 5, 5}, x.Data())
	})

	t.Run("shape mismatch", func(t *testing.T) {
		c, _ := Full(Float64, Shape{5}, 1)
		dst, _ := New(Float64, Shape{4})
		assert.ErrorContains(t, CAdd(dst, a, 1, c), "shape mismatch")
	})

	t.Run("dtype mismatch", func(t *testing.T) {
		c, _ := Full(Float32, Shape{4}, 1)
		dst, _ := New(Float64, Shape{4})
		assert.ErrorContains(t, CAdd(dst, a, 1, c), "dtype mismatch")
	})
}

func TestParseDType(t *testing.T) {
	d, err := ParseDType("FLOAT32")
	require.NoError(t, err)
	assert.Equal(t, Float32, d)

	d, err = ParseDType("")
	require.NoError(t, err)
	assert.Equal(t, Float64, d)

	_, err = ParseDType("int8")
	assert.Error(t, err)
}
