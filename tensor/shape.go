// Package tensor implements the flat-buffer plumbing between
// latent embeddings, the inference collaborator, and dense
// scalar volumes: shape descriptors, DHWC/NCDHW layout
// permutations, and frame splitting.
package tensor

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EmbeddingExtent is the spatial edge length of a latent
// embedding grid.
const EmbeddingExtent = 4

var (
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrUnsupportedChannels = errors.New("unsupported channel width")
)

// A Shape lists the dimensions of a row-major tensor,
// outermost first.
type Shape []int

// EmbeddingShape is the channel-first shape [1, C, 4, 4, 4]
// of a latent embedding with the given channel width.
func EmbeddingShape(channels int) Shape {
	return Shape{1, channels, EmbeddingExtent, EmbeddingExtent, EmbeddingExtent}
}

// Size is the number of elements in the shape.
// An empty shape describes a scalar.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i, d := range s {
		if other[i] != d {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Check verifies that data holds exactly s.Size() values.
func (s Shape) Check(data []float32) error {
	if len(data) != s.Size() {
		return errors.Wrapf(ErrShapeMismatch, "shape %s needs %d values, got %d",
			s, s.Size(), len(data))
	}
	return nil
}

// CheckChannels reports whether channels is a supported
// embedding width (64 or 128).
func CheckChannels(channels int) error {
	if channels != 64 && channels != 128 {
		return errors.Wrapf(ErrUnsupportedChannels, "channels=%d (want 64 or 128)", channels)
	}
	return nil
}

// Subset copies the index-th run of dim values out of all.
func Subset(all []float32, index, dim int) ([]float32, error) {
	if index < 0 || dim <= 0 || (index+1)*dim > len(all) {
		return nil, errors.Wrapf(ErrShapeMismatch, "subset %d of width %d out of %d values",
			index, dim, len(all))
	}
	res := make([]float32, dim)
	copy(res, all[index*dim:])
	return res, nil
}
