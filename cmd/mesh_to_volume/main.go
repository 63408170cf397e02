// Command mesh_to_volume samples triangle meshes into
// signed-distance volumes that can be meshed again or fed
// to the decoder tooling as reference data.
//
// Every .off or .stl file under the input directory is
// converted to one .npy file per variation, mirroring the
// directory structure in the output directory. Values are
// positive inside the mesh and measured in voxels, so the
// surface sits at isovalue 0.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/model3d/model3d"
	"k8s.io/klog/v2"
)

type Options struct {
	Variations int
	GridSize   int
	Padding    int

	// NPZ writes an archive holding the signed distances
	// and the boolean occupancy instead of a bare .npy.
	NPZ bool
}

func main() {
	var opts Options

	klog.InitFlags(nil)
	flag.IntVar(&opts.Variations, "variations", 1, "number of random rotations to produce")
	flag.IntVar(&opts.GridSize, "grid-size", 64, "number of voxels along each dimension")
	flag.IntVar(&opts.Padding, "padding", 2, "empty voxels between the mesh and the grid boundary")
	flag.BoolVar(&opts.NPZ, "npz", false, "write .npz archives with sdf and occupancy arrays")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "[flags] <input_dir> <output_dir>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()
	if len(flag.Args()) != 2 {
		flag.Usage()
	}
	if opts.GridSize-2*opts.Padding < 2 {
		essentials.Die("grid size too small for padding")
	}

	inDir := flag.Args()[0]
	outDir := flag.Args()[1]
	essentials.Must(ConvertTree(inDir, outDir, opts))
}

// ConvertTree converts every supported mesh under inDir.
func ConvertTree(inDir, outDir string, opts Options) error {
	return filepath.Walk(inDir, func(inPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(inDir, inPath)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, relPath)

		if info.IsDir() {
			return os.MkdirAll(outPath, 0755)
		}

		switch strings.ToLower(filepath.Ext(inPath)) {
		case ".off", ".stl":
			return ConvertModel(inPath, outPath, opts)
		}
		return nil
	})
}

func ConvertModel(inPath, outPath string, opts Options) error {
	klog.Infof("converting %s ...", inPath)

	mesh, err := ReadMesh(inPath)
	if err != nil {
		return err
	}

	outBase := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	for i := 0; i < opts.Variations; i++ {
		saveMesh := mesh
		if i != 0 {
			saveMesh = TransformMesh(saveMesh)
		}
		sampler := NewVoxelSampler(saveMesh, opts.GridSize, opts.Padding)
		vol := sampler.Volume()

		data, shape := vol.ChannelLast()
		sdf := &npy.Array{Shape: shape, Data: data}
		if opts.NPZ {
			path := fmt.Sprintf("%s-%d.npz", outBase, i)
			err = npy.WriteNPZ(path, map[string]*npy.Array{
				"sdf":    sdf,
				"voxels": {Shape: shape, Data: Occupancy(data)},
			})
		} else {
			err = npy.WriteFile(fmt.Sprintf("%s-%d.npy", outBase, i), sdf)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadMesh loads an OFF or STL file.
func ReadMesh(path string) (*model3d.Mesh, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read mesh")
	}
	defer r.Close()

	var triangles []*model3d.Triangle
	if strings.EqualFold(filepath.Ext(path), ".stl") {
		triangles, err = model3d.ReadSTL(r)
	} else {
		triangles, err = model3d.ReadOFF(r)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read mesh %s", path)
	}
	if len(triangles) == 0 {
		return nil, errors.Errorf("read mesh %s: no triangles", path)
	}
	return model3d.NewMeshTriangles(triangles), nil
}

// TransformMesh applies a random rotation to the mesh.
func TransformMesh(mesh *model3d.Mesh) *model3d.Mesh {
	v1 := model3d.NewCoord3DRandUnit()
	v2 := model3d.NewCoord3DRandUnit().ProjectOut(v1).Normalize()
	v3 := model3d.NewCoord3DRandUnit().ProjectOut(v1).ProjectOut(v2).Normalize()
	transform := &model3d.Matrix3Transform{
		Matrix: model3d.NewMatrix3Columns(v1, v2, v3),
	}

	// Only use rotations, not mirrors.
	if transform.Matrix.Det() < 0 {
		for i := 0; i < 3; i++ {
			transform.Matrix[i] *= -1
		}
	}

	return mesh.MapCoords(transform.Apply)
}

// Occupancy thresholds signed distances at zero.
func Occupancy(sdf []float32) []float32 {
	res := make([]float32, len(sdf))
	for i, x := range sdf {
		if x >= 0 {
			res[i] = 1
		}
	}
	return res
}

