package main

import (
	"math"
	"runtime"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/latentmesh/volume"
	"github.com/unixpickle/model3d/model3d"
)

type VoxelCoord [3]int

// A VoxelSampler evaluates the signed distance to a mesh at
// every voxel center of a cubic grid.
type VoxelSampler struct {
	Space *VoxelSpace
	SDF   model3d.SDF
	Solid *NonManifoldSolid
}

// NewVoxelSampler fits the mesh's bounding cube inside a
// grid of gridSize voxels, leaving padding empty voxels on
// every side.
func NewVoxelSampler(m *model3d.Mesh, gridSize, padding int) *VoxelSampler {
	collider := model3d.MeshToCollider(m)

	sizes := collider.Max().Sub(collider.Min())
	size := math.Max(math.Max(sizes.X, sizes.Y), sizes.Z)
	inner := gridSize - 2*padding
	cellSize := size / float64(inner)
	size = cellSize * float64(gridSize)

	unit := model3d.Coord3D{X: 1, Y: 1, Z: 1}
	origin := sizes.Sub(unit.Scale(size)).Scale(0.5).Add(collider.Min())

	return &VoxelSampler{
		Space: &VoxelSpace{
			Origin:   origin,
			Size:     size,
			GridSize: gridSize,
		},
		SDF:   model3d.MeshToSDF(m),
		Solid: &NonManifoldSolid{Collider: collider},
	}
}

// Volume samples the grid. Values are signed distances in
// voxel units, positive inside the mesh.
//
// The sign comes from ray parity rather than the SDF, since
// scanned and modeled meshes are often not watertight.
func (v *VoxelSampler) Volume() *volume.Volume {
	n := v.Space.GridSize
	values := make([]float32, n*n*n)
	cellSize := v.Space.CellSize()
	essentials.ConcurrentMap(runtime.GOMAXPROCS(0), n, func(z int) {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				c := v.Space.Coord(VoxelCoord{x, y, z})
				dist := math.Abs(v.SDF.SDF(c)) / cellSize
				if !v.Solid.Contains(c) {
					dist = -dist
				}
				values[x+n*(y+n*z)] = float32(dist)
			}
		}
	})
	vol, err := volume.New(values, n)
	essentials.Must(err)
	return vol
}

// A VoxelSpace maps voxel indices to the centers of cubes
// in world space.
type VoxelSpace struct {
	Origin   model3d.Coord3D
	Size     float64
	GridSize int
}

func (v *VoxelSpace) CellSize() float64 {
	return v.Size / float64(v.GridSize)
}

func (v *VoxelSpace) Coord(vc VoxelCoord) model3d.Coord3D {
	unit := model3d.Coord3D{X: 1, Y: 1, Z: 1}
	idxCoord := model3d.Coord3D{X: float64(vc[0]), Y: float64(vc[1]), Z: float64(vc[2])}
	return v.Origin.Add(idxCoord.Add(unit.Scale(0.5)).Scale(v.CellSize()))
}

// GridCoord is the inverse of Coord, in continuous voxel
// index space.
func (v *VoxelSpace) GridCoord(c model3d.Coord3D) [3]float64 {
	rel := c.Sub(v.Origin).Scale(1 / v.CellSize())
	return [3]float64{rel.X - 0.5, rel.Y - 0.5, rel.Z - 0.5}
}
