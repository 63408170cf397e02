package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/latentmesh/mc"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/unixpickle/latentmesh/volume"
)

func TestReadGridAndSave(t *testing.T) {
	dir := t.TempDir()
	data := make([]float32, 4*4*4)
	data[1+4*(1+4*1)] = 1

	npyPath := filepath.Join(dir, "grid.npy")
	require.NoError(t, npy.WriteFile(npyPath, &npy.Array{Shape: tensor.Shape{4, 4, 4}, Data: data}))
	grid, err := ReadGrid(npyPath)
	require.NoError(t, err)
	assert.Equal(t, float32(1), grid.Get(1, 1, 1))

	jsonPath := filepath.Join(dir, "grid.json")
	f := must.M1(os.Create(jsonPath))
	require.NoError(t, grid.WriteJSON(f))
	require.NoError(t, f.Close())
	fromJSON, err := ReadGrid(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, grid.Values(), fromJSON.Values())

	m := must.M1(mc.Extract(grid, mc.Options{Isovalue: 0.5}))
	assert.Equal(t, 8, m.NumTriangles())

	objPath := filepath.Join(dir, "out.obj")
	require.NoError(t, Save(objPath, m))
	read := must.M1(mesh.ReadOBJ(must.M1(os.Open(objPath))))
	assert.Equal(t, 8, read.NumTriangles())

	stlPath := filepath.Join(dir, "out.STL")
	require.NoError(t, Save(stlPath, m))
	info := must.M1(os.Stat(stlPath))
	assert.EqualValues(t, 84+50*8, info.Size())

	_, err = ReadGrid(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestResampledGrid(t *testing.T) {
	// A sphere sampled coarsely and then upsampled should mesh
	// into more triangles without moving off the surface.
	grid := must.M1(volume.New(make([]float32, 9*9*9), 9))
	for z := 0; z < 9; z++ {
		for y := 0; y < 9; y++ {
			for x := 0; x < 9; x++ {
				d := math.Sqrt(float64((x-4)*(x-4) + (y-4)*(y-4) + (z-4)*(z-4)))
				grid.Set(x, y, z, float32(3-d))
			}
		}
	}
	coarse := must.M1(mc.Extract(grid, mc.Options{Isovalue: 0}))
	fine := must.M1(mc.Extract(must.M1(grid.Resample(17)), mc.Options{Isovalue: 0}))
	assert.Greater(t, fine.NumTriangles(), coarse.NumTriangles())

	// Fine vertices live in a grid twice as dense.
	for _, v := range fine.Vertices {
		r := math.Sqrt(float64(v[0]-8)*float64(v[0]-8) +
			float64(v[1]-8)*float64(v[1]-8) + float64(v[2]-8)*float64(v[2]-8))
		assert.InDelta(t, 6, r, 1)
	}
}
