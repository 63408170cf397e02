package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/unixpickle/latentmesh/volume"
	"k8s.io/klog/v2"
)

// LoadEmbedding reads an embedding and returns it in the
// channel-first [1, C, 4, 4, 4] layout.
//
// A .npy file must hold exactly 4*4*4*C values. Its layout
// is taken from the shape: [C, 4, 4, 4] and [1, C, 4, 4, 4]
// are channel-first, anything else is read as [4, 4, 4, C].
//
// Any other file is read as raw little endian float32
// values in [4, 4, 4, C] layout. A raw file may hold several
// embeddings back to back, in which case index selects one.
// Index is ignored for .npy files.
func (p *Pipeline) LoadEmbedding(path string, index int) ([]float32, error) {
	start := time.Now()
	defer p.record(stageLoad, start)

	n := p.cfg.embeddingValues()
	if strings.EqualFold(filepath.Ext(path), ".npy") {
		arr, err := npy.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if len(arr.Data) != n {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch,
				"%s: embedding of %d channels needs %d values, file has %d (shape %s)",
				path, p.cfg.Channels, n, len(arr.Data), arr.Shape)
		}
		if p.channelFirst(arr.Shape) {
			return arr.Data, nil
		}
		return tensor.ToChannelFirst(arr.Data, p.cfg.Channels)
	}

	all, err := npy.ReadRawFile(path)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 || len(all)%n != 0 {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch,
			"%s: %d values is not a whole number of %d-value embeddings", path, len(all), n)
	}
	emb, err := tensor.Subset(all, index, n)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return tensor.ToChannelFirst(emb, p.cfg.Channels)
}

func (p *Pipeline) channelFirst(shape tensor.Shape) bool {
	c, e := p.cfg.Channels, tensor.EmbeddingExtent
	return shape.Equal(tensor.Shape{c, e, e, e}) || shape.Equal(tensor.EmbeddingShape(c))
}

// SaveMesh writes m as <name>.obj in the output directory,
// plus <name>.stl if Config.SaveSTL is set. An empty name
// is derived from the run ID. It returns the OBJ path.
func (p *Pipeline) SaveMesh(name string, m *mesh.Mesh) (string, error) {
	start := time.Now()
	defer p.record(stageSave, start)

	if name == "" {
		name = fmt.Sprintf("mesh%d_%s", p.cfg.GridSize, p.shortID())
	}
	path, err := p.outputPath(name + ".obj")
	if err != nil {
		return "", err
	}
	info, err := mesh.SaveOBJ(path, m)
	if err != nil {
		return "", err
	}
	klog.V(1).Infof("saved %s: %d vertices, %d triangles (%s)", path, m.NumVertices(),
		m.NumTriangles(), humanize.Bytes(uint64(info.Size())))

	if p.cfg.SaveSTL {
		stlPath := strings.TrimSuffix(path, ".obj") + ".stl"
		if err := mesh.SaveSTL(stlPath, m); err != nil {
			return "", err
		}
	}
	return path, nil
}

// SaveVolume writes v as <name>.npy with shape [L, L, L]
// or, when v carries offsets, [L, L, L, 4].
func (p *Pipeline) SaveVolume(name string, v *volume.Volume) (string, error) {
	start := time.Now()
	defer p.record(stageSave, start)

	if name == "" {
		name = fmt.Sprintf("decoder%d_%s", p.cfg.GridSize, p.shortID())
	}
	path, err := p.outputPath(name + ".npy")
	if err != nil {
		return "", err
	}
	data, shape := v.ChannelLast()
	if err := npy.WriteFile(path, &npy.Array{Shape: shape, Data: data}); err != nil {
		return "", err
	}
	return path, nil
}

// SaveFrames writes interpolation frames as
// interpolation_frame_<n>.npy with shape [C, 4, 4, 4],
// numbering frames from 1.
func (p *Pipeline) SaveFrames(frames [][]float32) ([]string, error) {
	start := time.Now()
	defer p.record(stageSave, start)

	e := tensor.EmbeddingExtent
	shape := tensor.Shape{p.cfg.Channels, e, e, e}
	var paths []string
	for i, frame := range frames {
		path, err := p.outputPath(fmt.Sprintf("interpolation_frame_%d.npy", i+1))
		if err != nil {
			return nil, err
		}
		if err := npy.WriteFile(path, &npy.Array{Shape: shape, Data: frame}); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (p *Pipeline) outputPath(name string) (string, error) {
	dir := p.cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", mesh.WrapIOFailure(err, "create output directory")
	}
	return filepath.Join(dir, name), nil
}

func (p *Pipeline) shortID() string {
	return p.runID[:8]
}
