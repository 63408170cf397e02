package volume

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

var ErrFormat = errors.New("malformed voxel grid")

// ReadJSON reads a volume encoded as a JSON 3D array with
// z on the outer dimension, then y, then x.
func ReadJSON(r io.Reader) (*Volume, error) {
	var object [][][]float32
	dec := json.NewDecoder(r)
	if err := dec.Decode(&object); err != nil {
		return nil, errors.Wrapf(ErrFormat, "read voxel grid: %v", err)
	}
	size := len(object)
	result := make([]float32, 0, size*size*size)
	for _, yPlane := range object {
		if len(yPlane) != size {
			return nil, errors.Wrap(ErrInvalidVolume, "read voxel grid: invalid dimensions")
		}
		for _, xLine := range yPlane {
			if len(xLine) != size {
				return nil, errors.Wrap(ErrInvalidVolume, "read voxel grid: invalid dimensions")
			}
			result = append(result, xLine...)
		}
	}
	return New(result, size)
}

// WriteJSON writes the scalar values in the format read by
// ReadJSON.
func (v *Volume) WriteJSON(w io.Writer) error {
	object := make([][][]float32, v.Size)
	for z := range object {
		object[z] = make([][]float32, v.Size)
		for y := range object[z] {
			start := v.Index(0, y, z)
			object[z][y] = v.values[start : start+v.Size]
		}
	}
	return errors.Wrap(json.NewEncoder(w).Encode(object), "write voxel grid")
}
