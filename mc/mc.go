// Package mc extracts triangle meshes from scalar volumes
// with the marching cubes algorithm.
//
// A corner is inside the surface when its value is greater
// than or equal to the isovalue. Vertices are emitted in
// grid-index coordinates and are not shared between
// triangles, so every mesh has exactly three vertices per
// triangle. Triangles are wound counter-clockwise when seen
// from outside, i.e. from the side with lower values.
package mc

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/volume"
	"k8s.io/klog/v2"
)

// Options controls a call to Extract.
type Options struct {
	Isovalue float32

	// ApplyOffsets displaces each vertex by the volume's
	// per-voxel offsets, blended along the crossed edge.
	// It has no effect on volumes without offsets.
	ApplyOffsets bool

	// Progress, if non-nil, is called after every z slab of
	// cubes with the number of finished and total slabs.
	Progress func(done, total int)
}

// A Cell is one unit cube of a volume: the grid index of
// its lowest corner and the samples at its eight corners,
// ordered as cornerOffsets.
type Cell struct {
	X, Y, Z int
	Values  [8]float32

	// Offsets are per-corner displacements, used when
	// HasOffsets is set.
	Offsets    [8][3]float32
	HasOffsets bool
}

// Extract runs marching cubes over every cube of v.
//
// It fails with volume.ErrInvalidVolume if v is not a cube
// of edge length at least 2. Otherwise it always returns a
// mesh, which is empty if no cube crosses the isovalue.
func Extract(v *volume.Volume, opts Options) (*mesh.Mesh, error) {
	if v == nil {
		return nil, errors.Wrap(volume.ErrInvalidVolume, "nil volume")
	}
	size := v.Size
	values := v.Values()
	if size < 2 {
		return nil, errors.Wrapf(volume.ErrInvalidVolume, "edge length %d (need at least 2)", size)
	}
	if len(values) != size*size*size {
		return nil, errors.Wrapf(volume.ErrInvalidVolume, "edge length %d needs %d values, got %d",
			size, size*size*size, len(values))
	}
	useOffsets := opts.ApplyOffsets && v.Offsets != nil
	if useOffsets && len(v.Offsets) != 3*len(values) {
		return nil, errors.Wrapf(volume.ErrInvalidVolume, "%d offsets for %d voxels",
			len(v.Offsets), len(values))
	}

	var cornerIndex [8]int
	for i, o := range cornerOffsets {
		cornerIndex[i] = o[0] + size*(o[1]+size*o[2])
	}

	m := mesh.New()
	cell := Cell{HasOffsets: useOffsets}
	for z := 0; z < size-1; z++ {
		for y := 0; y < size-1; y++ {
			for x := 0; x < size-1; x++ {
				base := x + size*(y+size*z)
				cell.X, cell.Y, cell.Z = x, y, z
				for i, offset := range cornerIndex {
					cell.Values[i] = values[base+offset]
					if useOffsets {
						j := 3 * (base + offset)
						cell.Offsets[i] = [3]float32{v.Offsets[j], v.Offsets[j+1], v.Offsets[j+2]}
					}
				}
				Polygonize(&cell, opts.Isovalue, m)
			}
		}
		if opts.Progress != nil {
			opts.Progress(z+1, size-1)
		}
	}

	klog.V(1).Infof("marching cubes: %d^3 grid at isovalue %g: %d triangles",
		size, opts.Isovalue, m.NumTriangles())
	return m, nil
}

// CubeIndex computes the corner mask of a cube: bit i is
// set when values[i] >= iso.
func CubeIndex(values [8]float32, iso float32) uint8 {
	var mask uint8
	for i, v := range values {
		if v >= iso {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Polygonize appends the triangles for one cell to m and
// returns how many were added.
func Polygonize(c *Cell, iso float32, m *mesh.Mesh) int {
	mask := CubeIndex(c.Values, iso)
	edges := edgeTable[mask]
	if edges == 0 {
		return 0
	}

	var points [12][3]float32
	for e, corners := range edgeCorners {
		if edges&(1<<uint(e)) != 0 {
			points[e] = c.edgePoint(corners[0], corners[1], iso)
		}
	}

	tris := &triTable[mask]
	var count int
	for i := 0; i+2 < len(tris) && tris[i] >= 0; i += 3 {
		// The table winds triangles for the opposite inside
		// convention, so the last two vertices are swapped.
		m.AddTriangle(points[tris[i]], points[tris[i+2]], points[tris[i+1]])
		count++
	}
	return count
}

func (c *Cell) edgePoint(a, b int, iso float32) [3]float32 {
	oa, ob := cornerOffsets[a], cornerOffsets[b]
	if oa[0]+oa[1]+oa[2] > ob[0]+ob[1]+ob[2] {
		// Neighboring cubes must produce bit-identical points
		// for a shared edge, so always start at its lower end.
		a, b = b, a
		oa, ob = ob, oa
	}
	t := EdgeFraction(iso, c.Values[a], c.Values[b])
	origin := [3]int{c.X, c.Y, c.Z}

	var p [3]float32
	for i := range p {
		p[i] = float32(origin[i]+oa[i]) + t*float32(ob[i]-oa[i])
		if c.HasOffsets {
			p[i] += (1-t)*c.Offsets[a][i] + t*c.Offsets[b][i]
		}
	}
	return p
}

// EdgeFraction finds where the isovalue is crossed between
// two samples, as a fraction of the way from v0 to v1.
//
// The result is always in [0, 1]. Equal samples and other
// degenerate inputs give 0.5.
func EdgeFraction(iso, v0, v1 float32) float32 {
	if v1 == v0 {
		return 0.5
	}
	t := (iso - v0) / (v1 - v0)
	if math.IsNaN(float64(t)) {
		return 0.5
	}
	return float32(math.Max(0, math.Min(1, float64(t))))
}
