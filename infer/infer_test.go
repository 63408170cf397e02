package infer

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/latentmesh/tensor"
)

func TestNewCodes(t *testing.T) {
	codes := NewCodes(rand.New(rand.NewSource(1)))
	require.Len(t, codes, 96)
	require.NoError(t, CodeShape.Check(codes))

	var distinct int
	seen := map[float32]bool{}
	for _, c := range codes {
		assert.GreaterOrEqual(t, c, float32(-CodeRange))
		assert.Less(t, c, float32(CodeRange))
		if !seen[c] {
			distinct++
			seen[c] = true
		}
	}
	assert.Greater(t, distinct, 90)

	t.Run("Seeded", func(t *testing.T) {
		a := NewCodes(rand.New(rand.NewSource(42)))
		b := NewCodes(rand.New(rand.NewSource(42)))
		c := NewCodes(rand.New(rand.NewSource(43)))
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
	})

	t.Run("Fresh", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		assert.NotEqual(t, NewCodes(rng), NewCodes(rng))
	})
}

func TestAdapters(t *testing.T) {
	var dec Decoder = DecoderFunc(func(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
		return append(input, 1), tensor.Shape{shape.Size() + 1}, nil
	})
	out, shape, err := dec.Decode([]float32{2, 3}, tensor.Shape{2})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 1}, out)
	assert.Equal(t, tensor.Shape{3}, shape)

	failure := errors.New("model crashed")
	var interp Interpolator = InterpolatorFunc(func(a, b []float32, embShape tensor.Shape,
		codes []float32) ([]float32, tensor.Shape, error) {
		return nil, nil, failure
	})
	_, _, err = interp.Interpolate(nil, nil, nil, nil)
	assert.Equal(t, failure, err)
}

func TestOpenRuntimeMissingLibrary(t *testing.T) {
	_, err := OpenRuntime(filepath.Join(t.TempDir(), "libonnxruntime.so"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRuntimeUnavailable))
}
