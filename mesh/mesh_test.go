package mesh

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareMesh() *Mesh {
	return &Mesh{
		Vertices: [][3]float32{
			{0, 0, 0},
			{1, 0, 0},
			{1, 1, 0},
			{0, 1, 0.5},
		},
		Triangles: [][3]int{
			{0, 1, 2},
			{0, 2, 3},
		},
	}
}

func TestWriteOBJFormat(t *testing.T) {
	m := squareMesh()
	var buf bytes.Buffer
	require.NoError(t, WriteOBJ(&buf, m))

	var vertexLines, faceLines int
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		require.Len(t, fields, 4)
		switch fields[0] {
		case "v":
			require.Zero(t, faceLines, "vertex lines must precede faces")
			vertexLines++
		case "f":
			faceLines++
			for _, f := range fields[1:] {
				idx, err := strconv.Atoi(f)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, idx, 1)
				assert.LessOrEqual(t, idx, m.NumVertices())
			}
		default:
			t.Fatalf("unexpected line %q", scanner.Text())
		}
	}
	assert.Equal(t, 4, vertexLines)
	assert.Equal(t, 2, faceLines)
}

func TestOBJRoundTrip(t *testing.T) {
	m := squareMesh()
	path := filepath.Join(t.TempDir(), "square.obj")
	info, err := SaveOBJ(path, m)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	m1, err := ReadOBJ(f)
	require.NoError(t, err)
	assert.Equal(t, m.Vertices, m1.Vertices)
	assert.Equal(t, m.Triangles, m1.Triangles)
}

func TestSaveOBJFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "out.obj")
	_, err := SaveOBJ(path, squareMesh())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "cause lost: %v", err)

	err = SaveSTL(path, squareMesh())
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "cause lost: %v", err)
}

type brokenPipe struct{}

func (brokenPipe) Read(p []byte) (int, error)  { return 0, errBrokenPipe }
func (brokenPipe) Write(p []byte) (int, error) { return 0, errBrokenPipe }

var errBrokenPipe = errors.New("broken pipe")

func TestIOFailureKeepsCause(t *testing.T) {
	err := WriteOBJ(brokenPipe{}, squareMesh())
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.True(t, errors.Is(err, errBrokenPipe))
	assert.Contains(t, err.Error(), "broken pipe")

	_, err = ReadOBJ(brokenPipe{})
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.True(t, errors.Is(err, errBrokenPipe))
	assert.False(t, errors.Is(err, ErrFormat))
}

func TestReadOBJ(t *testing.T) {
	t.Run("Quad", func(t *testing.T) {
		src := "# comment\nv 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nvn 0 0 1\nf 1/1/1 2/2/1 3/3/1 4/4/1\n"
		m, err := ReadOBJ(strings.NewReader(src))
		require.NoError(t, err)
		assert.Equal(t, [][3]int{{0, 1, 2}, {0, 2, 3}}, m.Triangles)
	})
	t.Run("OutOfRange", func(t *testing.T) {
		_, err := ReadOBJ(strings.NewReader("v 0 0 0\nv 1 0 0\nf 1 2 3\n"))
		assert.True(t, errors.Is(err, ErrFormat))
	})
	t.Run("ZeroIndex", func(t *testing.T) {
		_, err := ReadOBJ(strings.NewReader("v 0 0 0\nv 1 0 0\nv 1 1 1\nf 0 1 2\n"))
		assert.True(t, errors.Is(err, ErrFormat))
	})
}

func TestDegenerateTrianglesPassThrough(t *testing.T) {
	m := New()
	p := [3]float32{1, 2, 3}
	m.AddTriangle(p, p, p)
	var buf bytes.Buffer
	require.NoError(t, WriteOBJ(&buf, m))
	assert.Equal(t, "v 1 2 3\nv 1 2 3\nv 1 2 3\nf 1 2 3\n", buf.String())
}

func TestBoundsAndTransform(t *testing.T) {
	m := squareMesh()
	min, max := m.Bounds()
	assert.Equal(t, [3]float32{0, 0, 0}, min)
	assert.Equal(t, [3]float32{1, 1, 0.5}, max)

	m.Transform(2, [3]float32{1, 0, 0})
	min, max = m.Bounds()
	assert.Equal(t, [3]float32{1, 0, 0}, min)
	assert.Equal(t, [3]float32{3, 2, 1}, max)

	other := squareMesh()
	m.Append(other)
	assert.Equal(t, 8, m.NumVertices())
	assert.Equal(t, [3]int{4, 6, 7}, m.Triangles[3])
}

func TestSaveSTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "square.stl")
	require.NoError(t, SaveSTL(path, squareMesh()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	// 80-byte header, count, and 50 bytes per triangle.
	assert.Equal(t, int64(84+2*50), info.Size())
}
