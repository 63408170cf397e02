package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/latentmesh/mc"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/unixpickle/latentmesh/volume"
	"github.com/unixpickle/model3d/model3d"
)

const tetrahedronOFF = `OFF
4 4 0
0 0 0
1 0 0
0 1 0
0 0 1
3 0 2 1
3 0 1 3
3 0 3 2
3 1 2 3
`

func TestVoxelSamplerCube(t *testing.T) {
	cube := model3d.NewMeshRect(model3d.Coord3D{}, model3d.Coord3D{X: 1, Y: 1, Z: 1})
	sampler := NewVoxelSampler(cube, 16, 2)
	assert.InDelta(t, 1.0/12, sampler.Space.CellSize(), 1e-9)

	vol := sampler.Volume()
	require.Equal(t, 16, vol.Size)
	center := vol.Get(8, 8, 8)
	assert.Greater(t, center, float32(5))
	assert.Less(t, center, float32(6.5))
	assert.Less(t, vol.Get(0, 0, 0), float32(0))
	assert.Less(t, vol.Get(1, 8, 8), float32(0))
	assert.Greater(t, vol.Get(3, 8, 8), float32(0))

	m, err := mc.Extract(vol, mc.Options{})
	require.NoError(t, err)
	require.NotZero(t, m.NumTriangles())
	min, max := m.Bounds()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.5, min[i], 0.6)
		assert.InDelta(t, 13.5, max[i], 0.6)
	}
}

func TestVoxelSpace(t *testing.T) {
	space := &VoxelSpace{Origin: model3d.Coord3D{X: -1, Y: 2, Z: 0}, Size: 4, GridSize: 8}
	c := space.Coord(VoxelCoord{1, 2, 3})
	assert.InDelta(t, -0.25, c.X, 1e-9)
	assert.InDelta(t, 3.25, c.Y, 1e-9)
	assert.InDelta(t, 1.75, c.Z, 1e-9)
	g := space.GridCoord(c)
	assert.InDeltaSlice(t, []float64{1, 2, 3}, g[:], 1e-9)
}

func TestNonManifoldSolid(t *testing.T) {
	cube := model3d.NewMeshRect(model3d.Coord3D{}, model3d.Coord3D{X: 1, Y: 1, Z: 1})

	// Duplicating every triangle must not flip containment.
	doubled := model3d.NewMesh()
	cube.Iterate(func(tri *model3d.Triangle) {
		doubled.Add(tri)
		dup := *tri
		doubled.Add(&dup)
	})
	for _, m := range []*model3d.Mesh{cube, doubled} {
		solid := &NonManifoldSolid{Collider: model3d.MeshToCollider(m)}
		assert.True(t, solid.Contains(model3d.Coord3D{X: 0.5, Y: 0.4, Z: 0.3}))
		assert.False(t, solid.Contains(model3d.Coord3D{X: 1.5, Y: 0.4, Z: 0.3}))
		assert.False(t, solid.Contains(model3d.Coord3D{X: 0.5, Y: -0.1, Z: 0.3}))
	}
}

func TestConvertTree(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(inDir, "shapes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "shapes", "tetra.off"),
		[]byte(tetrahedronOFF), 0644))
	cube := model3d.NewMeshRect(model3d.Coord3D{}, model3d.Coord3D{X: 2, Y: 1, Z: 1})
	require.NoError(t, cube.SaveGroupedSTL(filepath.Join(inDir, "box.stl")))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "notes.txt"), []byte("skip"), 0644))

	opts := Options{Variations: 2, GridSize: 12, Padding: 1}
	require.NoError(t, ConvertTree(inDir, outDir, opts))

	for _, name := range []string{"shapes/tetra-0.npy", "shapes/tetra-1.npy", "box-0.npy", "box-1.npy"} {
		arr, err := npy.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		assert.Equal(t, tensor.Shape{12, 12, 12}, arr.Shape)
		vol := must.M1(volume.FromArray(arr.Shape, arr.Data))
		lo, hi := vol.Range()
		assert.Less(t, lo, float32(0), name)
		assert.Greater(t, hi, float32(0), name)
	}
	assert.NoFileExists(t, filepath.Join(outDir, "notes.npy"))

	t.Run("NPZ", func(t *testing.T) {
		out := t.TempDir()
		opts := Options{Variations: 1, GridSize: 10, Padding: 1, NPZ: true}
		require.NoError(t, ConvertModel(filepath.Join(inDir, "box.stl"), filepath.Join(out, "box.stl"), opts))
		arrays := must.M1(npy.ReadNPZ(filepath.Join(out, "box-0.npz")))
		require.Contains(t, arrays, "sdf")
		require.Contains(t, arrays, "voxels")
		for i, x := range arrays["sdf"].Data {
			if x >= 0 {
				assert.Equal(t, float32(1), arrays["voxels"].Data[i])
			} else {
				assert.Equal(t, float32(0), arrays["voxels"].Data[i])
			}
		}
	})
}

func TestReadMeshErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadMesh(filepath.Join(dir, "missing.off"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.off")
	require.NoError(t, os.WriteFile(bad, []byte("OFF\n0 0 0\n"), 0644))
	_, err = ReadMesh(bad)
	assert.Error(t, err)
}
