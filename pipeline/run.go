package pipeline

import (
	"fmt"

	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/unixpickle/latentmesh/volume"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// A FrameResult is one decoded and meshed frame.
type FrameResult struct {
	// Index numbers frames from 1.
	Index  int
	Volume *volume.Volume
	Mesh   *mesh.Mesh

	// Paths of exported files, empty when nothing was saved.
	FramePath  string
	MeshPath   string
	VolumePath string
}

type Result struct {
	RunID   string
	Frames  []*FrameResult
	Warning *tensor.StructuralWarning
	Timings Timings
}

// Run interpolates between two channel-first embeddings,
// then decodes and meshes every frame. Frames are meshed by
// up to Config.Workers goroutines. If Config.OutputDir is
// set, frames and meshes are saved there.
func (p *Pipeline) Run(a, b []float32) (*Result, error) {
	interp, err := p.Interpolate(a, b)
	if err != nil {
		return nil, err
	}
	if interp.Warning != nil {
		klog.Warningf("run %s: continuing with %d of %d frames", p.runID,
			len(interp.Frames), p.cfg.Frames)
	}

	res := &Result{
		RunID:   p.runID,
		Frames:  make([]*FrameResult, len(interp.Frames)),
		Warning: interp.Warning,
	}
	save := p.cfg.OutputDir != ""
	if save {
		paths, err := p.SaveFrames(interp.Frames)
		if err != nil {
			return nil, err
		}
		for i, path := range paths {
			res.Frames[i] = &FrameResult{FramePath: path}
		}
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, frame := range interp.Frames {
		if res.Frames[i] == nil {
			res.Frames[i] = &FrameResult{}
		}
		fr := res.Frames[i]
		fr.Index = i + 1
		g.Go(func() error {
			return p.runFrame(fr, frame, save)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Timings = p.Timings()
	klog.V(1).Infof("run %s: %d frame(s), %s", p.runID, len(res.Frames), res.Timings)
	return res, nil
}

func (p *Pipeline) runFrame(fr *FrameResult, frame []float32, save bool) error {
	v, err := p.DecodeChannelFirst(frame)
	if err != nil {
		return err
	}
	m, err := p.Mesh(v, nil)
	if err != nil {
		return err
	}
	fr.Volume, fr.Mesh = v, m
	klog.V(1).Infof("frame %d: %d triangles", fr.Index, m.NumTriangles())
	if !save {
		return nil
	}

	name := fmt.Sprintf("frame%d_mesh%d_%s", fr.Index, p.cfg.GridSize, p.shortID())
	if fr.MeshPath, err = p.SaveMesh(name, m); err != nil {
		return err
	}
	if p.cfg.SaveVolumes {
		if fr.VolumePath, err = p.SaveVolume(fmt.Sprintf("frame%d_decoder%d_%s", fr.Index,
			p.cfg.GridSize, p.shortID()), v); err != nil {
			return err
		}
	}
	return nil
}
