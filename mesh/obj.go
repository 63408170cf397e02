package mesh

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrIOFailure = errors.New("mesh I/O failure")
	ErrFormat    = errors.New("malformed mesh file")
)

// WriteOBJ writes the mesh as Wavefront OBJ text: one
// "v x y z" line per vertex, then one "f i j k" line per
// triangle with 1-based indices.
func WriteOBJ(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)
	line := make([]byte, 0, 64)
	for _, v := range m.Vertices {
		line = append(line[:0], 'v')
		for _, x := range v {
			line = append(line, ' ')
			line = strconv.AppendFloat(line, float64(x), 'g', -1, 32)
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return WrapIOFailure(err, "write obj")
		}
	}
	for _, t := range m.Triangles {
		line = append(line[:0], 'f')
		for _, idx := range t {
			line = append(line, ' ')
			line = strconv.AppendInt(line, int64(idx+1), 10)
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return WrapIOFailure(err, "write obj")
		}
	}
	if err := bw.Flush(); err != nil {
		return WrapIOFailure(err, "flush obj")
	}
	return nil
}

// SaveOBJ writes the mesh to an OBJ file at path and returns
// the written file's info.
//
// On failure the file may be left partially written.
func SaveOBJ(path string, m *Mesh) (os.FileInfo, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, WrapIOFailure(err, "create %s", path)
	}
	if err := WriteOBJ(f, m); err != nil {
		f.Close()
		return nil, errors.WithMessagef(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return nil, WrapIOFailure(err, "close %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, WrapIOFailure(err, "stat %s", path)
	}
	return info, nil
}

// ReadOBJ parses vertex and face lines of an OBJ file.
// Faces with more than three vertices are fanned into
// triangles; texture and normal references are ignored.
func ReadOBJ(r io.Reader) (*Mesh, error) {
	m := New()
	var faces [][]int

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, errors.Wrapf(ErrFormat, "line %d: vertex needs 3 coordinates", lineNum)
			}
			var p [3]float32
			for i := range p {
				x, err := strconv.ParseFloat(fields[i+1], 32)
				if err != nil {
					return nil, errors.Wrapf(ErrFormat, "line %d: %v", lineNum, err)
				}
				p[i] = float32(x)
			}
			m.AddVertex(p)
		case "f":
			if len(fields) < 4 {
				return nil, errors.Wrapf(ErrFormat, "line %d: face needs 3 vertices", lineNum)
			}
			face := make([]int, 0, len(fields)-1)
			for _, field := range fields[1:] {
				idx, err := strconv.Atoi(strings.SplitN(field, "/", 2)[0])
				if err != nil {
					return nil, errors.Wrapf(ErrFormat, "line %d: %v", lineNum, err)
				}
				face = append(face, idx)
			}
			faces = append(faces, face)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, WrapIOFailure(err, "read obj")
	}

	for _, face := range faces {
		for i, idx := range face {
			if idx < 1 || idx > len(m.Vertices) {
				return nil, errors.Wrapf(ErrFormat, "face index %d out of range [1, %d]",
					idx, len(m.Vertices))
			}
			face[i] = idx - 1
		}
		for i := 1; i+1 < len(face); i++ {
			m.Triangles = append(m.Triangles, [3]int{face[0], face[i], face[i+1]})
		}
	}
	return m, nil
}
