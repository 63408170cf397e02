package pipeline

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/latentmesh/infer"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/latentmesh/tensor"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Channels = 64
	cfg.GridSize = 16
	cfg.Seed = 1
	cfg.OutputDir = t.TempDir()
	return cfg
}

func embedding(channels int, f func(i int) float32) []float32 {
	res := make([]float32, tensor.EmbeddingShape(channels).Size())
	for i := range res {
		res[i] = f(i)
	}
	return res
}

// sphereDecoder decodes an embedding into a sphere whose
// radius is the embedding's first value. Offsets are zero.
func sphereDecoder(cfg Config) infer.Decoder {
	return infer.DecoderFunc(func(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
		l := cfg.GridSize
		n := l * l * l
		out := make([]float32, cfg.DecoderChannels*n)
		center := float64(l-1) / 2
		radius := float64(input[0])
		for z := 0; z < l; z++ {
			for y := 0; y < l; y++ {
				for x := 0; x < l; x++ {
					d := math.Sqrt(math.Pow(float64(x)-center, 2) + math.Pow(float64(y)-center, 2) +
						math.Pow(float64(z)-center, 2))
					out[x+l*(y+l*z)] = float32(radius - d)
				}
			}
		}
		return out, cfg.decoderShape(), nil
	})
}

// blendInterpolator returns frames evenly spaced between
// its two inputs, or extra values if trailing is nonzero.
func blendInterpolator(frames, trailing int) infer.Interpolator {
	return infer.InterpolatorFunc(func(a, b []float32, embShape tensor.Shape,
		codes []float32) ([]float32, tensor.Shape, error) {
		var out []float32
		for f := 0; f < frames; f++ {
			t := float32(f+1) / float32(frames+1)
			for i := range a {
				out = append(out, a[i]*(1-t)+b[i]*t)
			}
		}
		out = append(out, make([]float32, trailing)...)
		return out, nil, nil
	})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	for name, mutate := range map[string]func(c *Config){
		"Channels": func(c *Config) { c.Channels = 32 },
		"Frames":   func(c *Config) { c.Frames = 0 },
		"Grid":     func(c *Config) { c.GridSize = 1 },
		"Decoder":  func(c *Config) { c.DecoderChannels = 0 },
		"Workers":  func(c *Config) { c.Workers = 0 },
		"Isovalue": func(c *Config) { c.Isovalue = float32(math.NaN()) },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
			_, err := New(cfg, nil, nil)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestDecodeEmbedding(t *testing.T) {
	cfg := testConfig(t)
	dhwc := embedding(cfg.Channels, func(i int) float32 { return float32(i) })
	expected := must.M1(tensor.ToChannelFirst(dhwc, cfg.Channels))

	var calls int
	inner := sphereDecoder(cfg)
	dec := infer.DecoderFunc(func(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
		calls++
		assert.Equal(t, tensor.Shape{1, 64, 4, 4, 4}, shape)
		assert.Equal(t, expected, input)
		return inner.Decode([]float32{4}, shape)
	})
	p := must.M1(New(cfg, dec, nil))

	v, err := p.DecodeEmbedding(dhwc)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 16, v.Size)
	assert.Len(t, v.Offsets, 3*16*16*16)

	_, err = p.DecodeEmbedding(dhwc[1:])
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	assert.Equal(t, 1, calls)
}

func TestDecodeErrors(t *testing.T) {
	cfg := testConfig(t)
	input := embedding(cfg.Channels, func(int) float32 { return 3 })

	t.Run("Inference", func(t *testing.T) {
		failure := errors.New("session crashed")
		p := must.M1(New(cfg, infer.DecoderFunc(func([]float32, tensor.Shape) ([]float32,
			tensor.Shape, error) {
			return nil, nil, failure
		}), nil))
		_, err := p.DecodeChannelFirst(input)
		var inferErr *InferenceError
		require.True(t, errors.As(err, &inferErr))
		assert.Equal(t, failure, inferErr.Unwrap())
		assert.True(t, errors.Is(err, failure))
	})

	t.Run("OutputShape", func(t *testing.T) {
		p := must.M1(New(cfg, infer.DecoderFunc(func([]float32, tensor.Shape) ([]float32,
			tensor.Shape, error) {
			return make([]float32, 8), tensor.Shape{1, 1, 2, 2, 2}, nil
		}), nil))
		_, err := p.DecodeChannelFirst(input)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})

	t.Run("OutputLength", func(t *testing.T) {
		p := must.M1(New(cfg, infer.DecoderFunc(func([]float32, tensor.Shape) ([]float32,
			tensor.Shape, error) {
			return make([]float32, 10), nil, nil
		}), nil))
		_, err := p.DecodeChannelFirst(input)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})

	t.Run("NoDecoder", func(t *testing.T) {
		p := must.M1(New(cfg, nil, nil))
		_, err := p.DecodeChannelFirst(input)
		assert.True(t, errors.Is(err, ErrMissingModel))
	})
}

func TestInterpolate(t *testing.T) {
	cfg := testConfig(t)
	a := embedding(cfg.Channels, func(int) float32 { return 0 })
	b := embedding(cfg.Channels, func(int) float32 { return 4 })

	t.Run("Exact", func(t *testing.T) {
		p := must.M1(New(cfg, nil, blendInterpolator(3, 0)))
		res, err := p.Interpolate(a, b)
		require.NoError(t, err)
		assert.Nil(t, res.Warning)
		require.Len(t, res.Frames, 3)
		assert.Equal(t, float32(1), res.Frames[0][0])
		assert.Equal(t, float32(2), res.Frames[1][5])
		assert.Equal(t, float32(3), res.Frames[2][len(a)-1])
	})

	t.Run("Truncated", func(t *testing.T) {
		p := must.M1(New(cfg, nil, blendInterpolator(2, len(a)/2)))
		res, err := p.Interpolate(a, b)
		require.NoError(t, err)
		require.NotNil(t, res.Warning)
		assert.True(t, errors.Is(res.Warning, tensor.ErrStructural))
		assert.Len(t, res.Frames, 2)
	})

	t.Run("NoFrames", func(t *testing.T) {
		p := must.M1(New(cfg, nil, blendInterpolator(0, 10)))
		_, err := p.Interpolate(a, b)
		assert.True(t, errors.Is(err, ErrNoFrames))
	})

	t.Run("Codes", func(t *testing.T) {
		var seen [][]float32
		interp := infer.InterpolatorFunc(func(a, b []float32, embShape tensor.Shape,
			codes []float32) ([]float32, tensor.Shape, error) {
			assert.Equal(t, tensor.Shape{1, 64, 4, 4, 4}, embShape)
			seen = append(seen, codes)
			return append(append([]float32{}, a...), append(a, a...)...), nil, nil
		})
		p1 := must.M1(New(cfg, nil, interp))
		first := must.M1(p1.Interpolate(a, b))
		second := must.M1(p1.Interpolate(a, b))
		assert.NotEqual(t, first.Codes, second.Codes)
		for _, codes := range seen {
			require.NoError(t, infer.CodeShape.Check(codes))
			for _, c := range codes {
				assert.True(t, c >= -infer.CodeRange && c < infer.CodeRange)
			}
		}

		p2 := must.M1(New(cfg, nil, interp))
		assert.Equal(t, first.Codes, must.M1(p2.Interpolate(a, b)).Codes)
	})

	t.Run("Failure", func(t *testing.T) {
		failure := errors.New("out of memory")
		p := must.M1(New(cfg, nil, infer.InterpolatorFunc(func(a, b []float32, embShape tensor.Shape,
			codes []float32) ([]float32, tensor.Shape, error) {
			return nil, nil, failure
		})))
		_, err := p.Interpolate(a, b)
		var inferErr *InferenceError
		require.True(t, errors.As(err, &inferErr))
		assert.Equal(t, "interpolate", inferErr.Op)
		assert.Equal(t, failure, errors.Cause(inferErr.Err))
	})

	t.Run("BadInput", func(t *testing.T) {
		p := must.M1(New(cfg, nil, blendInterpolator(3, 0)))
		_, err := p.Interpolate(a, b[:10])
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})
}

func TestSingleVoxelEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.GridSize = 64
	cfg.Isovalue = 0.5
	dec := infer.DecoderFunc(func(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
		l := cfg.GridSize
		out := make([]float32, cfg.DecoderChannels*l*l*l)
		out[32+l*(32+l*32)] = 1
		return out, cfg.decoderShape(), nil
	})
	p := must.M1(New(cfg, dec, nil))

	v, err := p.DecodeEmbedding(embedding(cfg.Channels, func(int) float32 { return 0 }))
	require.NoError(t, err)
	m, err := p.Mesh(v, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, m.NumTriangles())
	assert.Equal(t, 24, m.NumVertices())
	for _, vert := range m.Vertices {
		for _, c := range vert {
			assert.InDelta(t, 32, c, 0.5+1e-6)
		}
	}

	path, err := p.SaveMesh("", m)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "mesh64_"+p.RunID()[:8]))

	f := must.M1(os.Open(path))
	defer f.Close()
	var vertices, faces int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch fields[0] {
		case "v":
			vertices++
		case "f":
			faces++
		}
	}
	assert.Equal(t, 24, vertices)
	assert.Equal(t, 8, faces)

	read, err := mesh.ReadOBJ(must.M1(os.Open(path)))
	require.NoError(t, err)
	assert.Equal(t, m.Triangles, read.Triangles)
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 3
	cfg.SaveSTL = true
	cfg.SaveVolumes = true

	var active, maxActive int32
	inner := sphereDecoder(cfg)
	dec := infer.DecoderFunc(func(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return inner.Decode(input, shape)
	})

	a := embedding(cfg.Channels, func(int) float32 { return 2 })
	b := embedding(cfg.Channels, func(int) float32 { return 6 })
	p := must.M1(New(cfg, dec, blendInterpolator(3, 0)))
	res, err := p.Run(a, b)
	require.NoError(t, err)
	assert.Equal(t, p.RunID(), res.RunID)
	assert.Nil(t, res.Warning)
	assert.EqualValues(t, 1, maxActive, "inference calls must not overlap")

	require.Len(t, res.Frames, 3)
	var lastTriangles int
	for i, fr := range res.Frames {
		assert.Equal(t, i+1, fr.Index)
		require.NotNil(t, fr.Mesh)
		assert.Greater(t, fr.Mesh.NumTriangles(), lastTriangles, "radius grows each frame")
		lastTriangles = fr.Mesh.NumTriangles()

		assert.Equal(t, filepath.Join(cfg.OutputDir, "interpolation_frame_"+string(rune('1'+i))+".npy"),
			fr.FramePath)
		frame := must.M1(npy.ReadFile(fr.FramePath))
		assert.Equal(t, tensor.Shape{64, 4, 4, 4}, frame.Shape)

		assert.FileExists(t, fr.MeshPath)
		assert.FileExists(t, strings.TrimSuffix(fr.MeshPath, ".obj")+".stl")
		vol := must.M1(npy.ReadFile(fr.VolumePath))
		assert.Equal(t, tensor.Shape{16, 16, 16, 4}, vol.Shape)
	}
	assert.Greater(t, res.Timings.Infer, time.Duration(0))
	assert.Greater(t, res.Timings.Total(), res.Timings.Infer)
}

func TestRunWithoutOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputDir = ""
	p := must.M1(New(cfg, sphereDecoder(cfg), blendInterpolator(2, 7)))
	res, err := p.Run(embedding(cfg.Channels, func(int) float32 { return 3 }),
		embedding(cfg.Channels, func(int) float32 { return 5 }))
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	require.Len(t, res.Frames, 2)
	for _, fr := range res.Frames {
		assert.Empty(t, fr.MeshPath)
		assert.NotZero(t, fr.Mesh.NumTriangles())
	}
}

func TestLoadEmbedding(t *testing.T) {
	cfg := testConfig(t)
	p := must.M1(New(cfg, nil, nil))
	dir := t.TempDir()
	dhwc := embedding(cfg.Channels, func(i int) float32 { return float32(i) })
	ncdhw := must.M1(tensor.ToChannelFirst(dhwc, cfg.Channels))

	t.Run("ChannelLast", func(t *testing.T) {
		path := filepath.Join(dir, "last.npy")
		require.NoError(t, npy.WriteFile(path, &npy.Array{Shape: tensor.Shape{1, 4, 4, 4, 64}, Data: dhwc}))
		assert.Equal(t, ncdhw, must.M1(p.LoadEmbedding(path, 0)))
	})

	t.Run("SavedFrame", func(t *testing.T) {
		paths := must.M1(p.SaveFrames([][]float32{ncdhw}))
		require.Len(t, paths, 1)
		assert.Equal(t, ncdhw, must.M1(p.LoadEmbedding(paths[0], 0)))
	})

	t.Run("WrongSize", func(t *testing.T) {
		path := filepath.Join(dir, "wide.npy")
		wide := embedding(128, func(int) float32 { return 1 })
		require.NoError(t, npy.WriteFile(path, &npy.Array{Shape: tensor.Shape{4, 4, 4, 128}, Data: wide}))
		_, err := p.LoadEmbedding(path, 0)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})

	t.Run("Raw", func(t *testing.T) {
		var payload []byte
		for _, x := range append(make([]float32, len(dhwc)), dhwc...) {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(x))
		}
		path := filepath.Join(dir, "codes.bin")
		require.NoError(t, os.WriteFile(path, payload, 0644))
		assert.Equal(t, ncdhw, must.M1(p.LoadEmbedding(path, 1)))

		_, err := p.LoadEmbedding(path, 2)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

		require.NoError(t, os.WriteFile(path, payload[:len(payload)-4], 0644))
		_, err = p.LoadEmbedding(path, 0)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := p.LoadEmbedding(filepath.Join(dir, "nope.npy"), 0)
		assert.True(t, errors.Is(err, npy.ErrIOFailure))
	})
}
