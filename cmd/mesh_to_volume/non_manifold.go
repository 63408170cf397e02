package main

import (
	"sort"

	"github.com/unixpickle/model3d/model3d"
)

// parityDirections are fixed, irregular unit vectors, so
// that rays rarely graze edges or vertices of a mesh.
var parityDirections = []model3d.Coord3D{
	{X: -0.40475415, Y: 0.86174632, Z: -0.30588783},
	{X: -0.81025101, Y: 0.38452447, Z: -0.44230559},
	{X: -0.09226702, Y: -0.74875317, Z: -0.65639584},
	{X: -0.99668947, Y: 0.08087344, Z: 0.00834144},
	{X: 0.67074042, Y: -0.60098173, Z: 0.43465877},
}

// NonManifoldSolid decides containment for meshes with
// holes or (near-)duplicate triangles.
//
// A point is inside when a majority of parity rays cross
// the surface an odd number of times.
type NonManifoldSolid struct {
	model3d.Collider
}

func (n *NonManifoldSolid) Contains(c model3d.Coord3D) bool {
	if !model3d.InBounds(n, c) {
		return false
	}
	var odd int
	for _, d := range parityDirections {
		if n.numIntersections(c, d)%2 == 1 {
			odd++
		}
	}
	return 2*odd > len(parityDirections)
}

func (n *NonManifoldSolid) numIntersections(coord, direction model3d.Coord3D) int {
	var scales []float64
	n.Collider.RayCollisions(&model3d.Ray{
		Origin:    coord,
		Direction: direction,
	}, func(r model3d.RayCollision) {
		scales = append(scales, r.Scale)
	})
	if len(scales) == 0 {
		return 0
	}
	sort.Float64s(scales)

	// Duplicate triangles count as one boundary.
	epsilon := n.Max().Sub(n.Min()).Norm() * 1e-8
	lastScale := -1.0
	var numUnique int
	for _, s := range scales {
		if s-lastScale > epsilon {
			numUnique++
		}
		lastScale = s
	}
	return numUnique
}
