// Package mesh stores triangle meshes produced by isosurface
// extraction and writes them to disk.
package mesh

import "math"

// A Mesh is an indexed triangle list. Vertices are not
// deduplicated; several triangles may reference identical
// positions through different indices.
type Mesh struct {
	Vertices  [][3]float32
	Triangles [][3]int
}

func New() *Mesh {
	return &Mesh{}
}

func (m *Mesh) NumVertices() int {
	return len(m.Vertices)
}

func (m *Mesh) NumTriangles() int {
	return len(m.Triangles)
}

// AddVertex appends a vertex and returns its index.
func (m *Mesh) AddVertex(p [3]float32) int {
	m.Vertices = append(m.Vertices, p)
	return len(m.Vertices) - 1
}

// AddTriangle appends three new vertices and a triangle
// referencing them.
func (m *Mesh) AddTriangle(a, b, c [3]float32) {
	ia := m.AddVertex(a)
	ib := m.AddVertex(b)
	ic := m.AddVertex(c)
	m.Triangles = append(m.Triangles, [3]int{ia, ib, ic})
}

// Append adds all of other's vertices and triangles to m,
// shifting other's indices.
func (m *Mesh) Append(other *Mesh) {
	base := len(m.Vertices)
	m.Vertices = append(m.Vertices, other.Vertices...)
	for _, t := range other.Triangles {
		m.Triangles = append(m.Triangles, [3]int{t[0] + base, t[1] + base, t[2] + base})
	}
}

// Bounds computes the axis-aligned bounding box of the
// vertices. For an empty mesh, min and max are zero.
func (m *Mesh) Bounds() (min, max [3]float32) {
	if len(m.Vertices) == 0 {
		return
	}
	min, max = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for i, x := range v {
			min[i] = float32(math.Min(float64(min[i]), float64(x)))
			max[i] = float32(math.Max(float64(max[i]), float64(x)))
		}
	}
	return
}

// Transform applies an affine map p*scale+offset to every
// vertex, e.g. to move from grid-index space to world units.
func (m *Mesh) Transform(scale float32, offset [3]float32) {
	for i, v := range m.Vertices {
		for j := range v {
			m.Vertices[i][j] = v[j]*scale + offset[j]
		}
	}
}
