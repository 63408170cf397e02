// Command grid_to_mesh converts a grid of scalar values
// into a triangle mesh and saves it as an OBJ or STL file.
//
// By default the grid is read from stdin as a JSON 3D array
// with z on the outer dimension, then y, then x. The array
// should be NxNxN, i.e. a perfect cube. With -input, the
// grid may instead be a .npy or .json file; a .npy file may
// also hold a decoded volume with offset channels.
//
// With -resample, the grid is trilinearly resampled to a new
// edge length before extraction, giving a finer or coarser
// mesh of the same surface.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/latentmesh/mc"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/latentmesh/volume"
	"k8s.io/klog/v2"
)

func main() {
	var threshold float64
	var inputPath string
	var outputPath string
	var offsets bool
	var resample int

	klog.InitFlags(nil)
	flag.Float64Var(&threshold, "threshold", 0.5, "minimum value for containment")
	flag.StringVar(&inputPath, "input", "", "input .npy or .json file (default: JSON on stdin)")
	flag.StringVar(&outputPath, "output", "output.obj", "output OBJ or STL file")
	flag.BoolVar(&offsets, "offsets", true, "apply offset channels when present")
	flag.IntVar(&resample, "resample", 0, "resample the grid to this edge length before meshing")
	flag.Parse()

	var grid *volume.Volume
	var err error
	if inputPath == "" {
		grid, err = volume.ReadJSON(os.Stdin)
	} else {
		grid, err = ReadGrid(inputPath)
	}
	essentials.Must(err)
	if resample != 0 {
		klog.V(1).Infof("resampling grid from %d to %d", grid.Size, resample)
		grid, err = grid.Resample(resample)
		essentials.Must(err)
	}

	m, err := mc.Extract(grid, mc.Options{
		Isovalue:     float32(threshold),
		ApplyOffsets: offsets,
	})
	essentials.Must(err)
	essentials.Must(Save(outputPath, m))
	klog.Infof("wrote %s: %d triangles", outputPath, m.NumTriangles())
}

// ReadGrid reads a volume from a .npy or .json file.
func ReadGrid(path string) (*volume.Volume, error) {
	if strings.EqualFold(filepath.Ext(path), ".npy") {
		arr, err := npy.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return volume.FromArray(arr.Shape, arr.Data)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read voxel grid")
	}
	defer f.Close()
	return volume.ReadJSON(f)
}

// Save picks the file format from the extension of path.
func Save(path string, m *mesh.Mesh) error {
	if strings.EqualFold(filepath.Ext(path), ".stl") {
		return mesh.SaveSTL(path, m)
	}
	_, err := mesh.SaveOBJ(path, m)
	return err
}
