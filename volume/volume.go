// Package volume holds dense cubic scalar grids, the input
// to isosurface extraction.
package volume

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/tensor"
)

var ErrInvalidVolume = errors.New("invalid volume")

// A Volume is a cubic grid of scalar samples indexed
// [z][y][x], with x varying fastest.
type Volume struct {
	Size int

	// Offsets optionally stores a 3D displacement per
	// voxel, in the same order as the scalar values.
	Offsets []float32

	values []float32
}

// New wraps values as a volume of edge length size.
// The slice is not copied.
func New(values []float32, size int) (*Volume, error) {
	if size < 2 {
		return nil, errors.Wrapf(ErrInvalidVolume, "edge length %d (need at least 2)", size)
	}
	if len(values) != size*size*size {
		return nil, errors.Wrapf(ErrInvalidVolume, "edge length %d needs %d values, got %d",
			size, size*size*size, len(values))
	}
	return &Volume{Size: size, values: values}, nil
}

// FromCube wraps values as a volume, inferring the edge
// length. It fails unless len(values) is a perfect cube.
func FromCube(values []float32) (*Volume, error) {
	size := int(math.Round(math.Cbrt(float64(len(values)))))
	if size*size*size != len(values) {
		return nil, errors.Wrapf(ErrInvalidVolume, "%d values do not form a cube", len(values))
	}
	return New(values, size)
}

// Values returns the underlying scalar buffer.
func (v *Volume) Values() []float32 {
	return v.values
}

// Index is the offset of (x, y, z) in Values().
func (v *Volume) Index(x, y, z int) int {
	return x + v.Size*(y+z*v.Size)
}

// Get gets the exact value at integer coordinates.
// If a coordinate is out of bounds, 0 is returned.
func (v *Volume) Get(x, y, z int) float32 {
	if !v.InBounds(x, y, z) {
		return 0
	}
	return v.values[v.Index(x, y, z)]
}

// Set sets the value at integer coordinates.
func (v *Volume) Set(x, y, z int, value float32) {
	v.values[v.Index(x, y, z)] = value
}

func (v *Volume) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Size && y < v.Size && z < v.Size
}

// Offset gets the displacement stored for a voxel, or a
// zero vector if the volume has no offsets.
func (v *Volume) Offset(x, y, z int) [3]float32 {
	if v.Offsets == nil || !v.InBounds(x, y, z) {
		return [3]float32{}
	}
	i := 3 * v.Index(x, y, z)
	return [3]float32{v.Offsets[i], v.Offsets[i+1], v.Offsets[i+2]}
}

// Interp gets a trilinear interpolated value at a point in
// grid-index coordinates. Points outside the grid take the
// value of the nearest boundary.
func (v *Volume) Interp(x, y, z float64) float64 {
	return v.trilinear(x, y, z, func(x, y, z int) float64 {
		return float64(v.Get(x, y, z))
	})
}

// InterpOffset interpolates the stored displacements like
// Interp does for scalars.
func (v *Volume) InterpOffset(x, y, z float64) [3]float32 {
	var res [3]float32
	if v.Offsets == nil {
		return res
	}
	for axis := range res {
		res[axis] = float32(v.trilinear(x, y, z, func(x, y, z int) float64 {
			return float64(v.Offset(x, y, z)[axis])
		}))
	}
	return res
}

// Resample builds a volume of a different edge length by
// interpolating this one, keeping the corner samples fixed.
// Offsets are resampled too when present.
func (v *Volume) Resample(size int) (*Volume, error) {
	if size < 2 {
		return nil, errors.Wrapf(ErrInvalidVolume, "resample to edge length %d", size)
	}
	res, err := New(make([]float32, size*size*size), size)
	if err != nil {
		return nil, err
	}
	if v.Offsets != nil {
		res.Offsets = make([]float32, 3*len(res.values))
	}
	scale := float64(v.Size-1) / float64(size-1)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				fx, fy, fz := float64(x)*scale, float64(y)*scale, float64(z)*scale
				i := res.Index(x, y, z)
				res.values[i] = float32(v.Interp(fx, fy, fz))
				if res.Offsets != nil {
					off := v.InterpOffset(fx, fy, fz)
					copy(res.Offsets[3*i:3*i+3], off[:])
				}
			}
		}
	}
	return res, nil
}

// Range returns the minimum and maximum sample.
func (v *Volume) Range() (min, max float32) {
	min, max = v.values[0], v.values[0]
	for _, x := range v.values[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return
}

// ChannelLast interleaves the scalar channel with the
// offsets (when present) into a [L, L, L, C] buffer.
func (v *Volume) ChannelLast() ([]float32, tensor.Shape) {
	if v.Offsets == nil {
		return v.values, tensor.Shape{v.Size, v.Size, v.Size}
	}
	res := make([]float32, 0, len(v.values)*4)
	for i, x := range v.values {
		res = append(res, x, v.Offsets[i*3], v.Offsets[i*3+1], v.Offsets[i*3+2])
	}
	return res, tensor.Shape{v.Size, v.Size, v.Size, 4}
}

func (v *Volume) trilinear(x, y, z float64, get func(x, y, z int) float64) float64 {
	x0, tx := v.cell(x)
	y0, ty := v.cell(y)
	z0, tz := v.cell(z)
	var value float64
	for dz := 0; dz < 2; dz++ {
		wz := lerpWeight(tz, dz)
		for dy := 0; dy < 2; dy++ {
			wy := lerpWeight(ty, dy)
			for dx := 0; dx < 2; dx++ {
				w := lerpWeight(tx, dx) * wy * wz
				if w != 0 {
					value += w * get(x0+dx, y0+dy, z0+dz)
				}
			}
		}
	}
	return value
}

// cell clamps c to the grid and splits it into the lower
// index of its cell and the fraction past that index.
func (v *Volume) cell(c float64) (int, float64) {
	c = math.Max(0, math.Min(c, float64(v.Size-1)))
	lo := int(math.Floor(c))
	if lo == v.Size-1 {
		lo--
	}
	return lo, c - float64(lo)
}

func lerpWeight(t float64, upper int) float64 {
	if upper == 1 {
		return t
	}
	return 1 - t
}
