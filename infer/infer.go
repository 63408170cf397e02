// Package infer defines the neural collaborators that turn
// latent embeddings into volumes, and the ONNX Runtime
// engine that backs them in production.
//
// Collaborators are opaque: they accept flat float32 buffers
// with explicit shapes and return flat buffers with shapes.
// Callers must not invoke a single collaborator from more
// than one goroutine at a time.
package infer

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/tensor"
)

// CodeRange bounds the channel-code values: each one is
// drawn uniformly from [-CodeRange, CodeRange).
const CodeRange = 0.05

// Input names of the interpolation model.
const (
	InputEmbedA = "embed_A"
	InputEmbedB = "embed_B"
	InputCodes  = "d_codes"
)

// CodeShape is the shape of the channel-code tensor fed to
// the interpolator.
var CodeShape = tensor.Shape{1, 3, 32}

var (
	ErrRuntimeUnavailable = errors.New("onnx runtime unavailable")
	ErrBadOutput          = errors.New("unexpected model output")
)

// A Decoder maps an embedding of shape [1, C, 4, 4, 4] to a
// dense output, typically [1, K, L, L, L].
type Decoder interface {
	Decode(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error)
}

// An Interpolator blends two embeddings of the same shape
// into a stack of frames, typically [F, C, 4, 4, 4].
type Interpolator interface {
	Interpolate(a, b []float32, embShape tensor.Shape, codes []float32) ([]float32, tensor.Shape, error)
}

type DecoderFunc func(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error)

func (d DecoderFunc) Decode(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
	return d(input, shape)
}

type InterpolatorFunc func(a, b []float32, embShape tensor.Shape,
	codes []float32) ([]float32, tensor.Shape, error)

func (i InterpolatorFunc) Interpolate(a, b []float32, embShape tensor.Shape,
	codes []float32) ([]float32, tensor.Shape, error) {
	return i(a, b, embShape, codes)
}

// NewCodes draws a fresh channel-code tensor of CodeShape.
func NewCodes(rng *rand.Rand) []float32 {
	res := make([]float32, CodeShape.Size())
	for i := range res {
		res[i] = (2*rng.Float32() - 1) * CodeRange
	}
	return res
}
