package mesh

import (
	"github.com/unixpickle/model3d/model3d"
)

// ToModel3D converts the mesh into a model3d mesh, which
// deduplicates vertices by position.
func ToModel3D(m *Mesh) *model3d.Mesh {
	res := model3d.NewMesh()
	for _, t := range m.Triangles {
		res.Add(&model3d.Triangle{
			toCoord(m.Vertices[t[0]]),
			toCoord(m.Vertices[t[1]]),
			toCoord(m.Vertices[t[2]]),
		})
	}
	return res
}

// SaveSTL writes the mesh as a binary STL file.
func SaveSTL(path string, m *Mesh) error {
	if err := ToModel3D(m).SaveGroupedSTL(path); err != nil {
		return WrapIOFailure(err, "save %s", path)
	}
	return nil
}

func toCoord(p [3]float32) model3d.Coord3D {
	return model3d.Coord3D{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
}
