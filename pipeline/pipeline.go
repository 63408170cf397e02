// Package pipeline strings the latent-to-mesh stages
// together: embedding intake, decoding, interpolation,
// isosurface extraction and export.
package pipeline

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/infer"
	"github.com/unixpickle/latentmesh/mc"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/unixpickle/latentmesh/volume"
	"k8s.io/klog/v2"
)

// A Pipeline owns a pair of model collaborators and the
// state shared between stages.
//
// Methods may be called concurrently. Calls into the
// collaborators are serialized by the Pipeline.
type Pipeline struct {
	cfg          Config
	runID        string
	decoder      infer.Decoder
	interpolator infer.Interpolator

	inferLock sync.Mutex

	rngLock sync.Mutex
	rng     *rand.Rand

	timingLock sync.Mutex
	timings    Timings
}

// New creates a pipeline. Either collaborator may be nil if
// the operations that need it are never called.
func New(cfg Config, decoder infer.Decoder, interpolator infer.Interpolator) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pipeline{
		cfg:          cfg,
		runID:        uuid.New().String(),
		decoder:      decoder,
		interpolator: interpolator,
		rng:          rand.New(rand.NewSource(seed)),
	}
	klog.V(1).Infof("pipeline %s: channels=%d frames=%d grid=%d seed=%d",
		p.runID, cfg.Channels, cfg.Frames, cfg.GridSize, seed)
	return p, nil
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

// RunID uniquely identifies this pipeline in logs and in
// default output names.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Timings returns the stage times accumulated so far.
func (p *Pipeline) Timings() Timings {
	p.timingLock.Lock()
	defer p.timingLock.Unlock()
	return p.timings
}

func (p *Pipeline) ResetTimings() {
	p.timingLock.Lock()
	defer p.timingLock.Unlock()
	p.timings = Timings{}
}

func (p *Pipeline) record(s stage, start time.Time) {
	d := time.Since(start)
	p.timingLock.Lock()
	p.timings.add(s, d)
	p.timingLock.Unlock()
}

// DecodeEmbedding decodes a channel-last [4, 4, 4, C]
// embedding, the layout embeddings are stored in.
func (p *Pipeline) DecodeEmbedding(dhwc []float32) (*volume.Volume, error) {
	start := time.Now()
	ncdhw, err := tensor.ToChannelFirst(dhwc, p.cfg.Channels)
	p.record(stageConvert, start)
	if err != nil {
		return nil, err
	}
	return p.DecodeChannelFirst(ncdhw)
}

// DecodeChannelFirst decodes a [1, C, 4, 4, 4] embedding
// into a volume of edge length Config.GridSize.
func (p *Pipeline) DecodeChannelFirst(ncdhw []float32) (*volume.Volume, error) {
	if p.decoder == nil {
		return nil, errors.Wrap(ErrMissingModel, "decoder")
	}
	shape := tensor.EmbeddingShape(p.cfg.Channels)
	if err := shape.Check(ncdhw); err != nil {
		return nil, err
	}

	start := time.Now()
	p.inferLock.Lock()
	raw, outShape, err := p.decoder.Decode(ncdhw, shape)
	p.inferLock.Unlock()
	p.record(stageInfer, start)
	if err != nil {
		return nil, &InferenceError{Op: "decode", Err: err}
	}

	want := p.cfg.decoderShape()
	if outShape != nil && !outShape.Equal(want) {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "decoder output shape %s, expected %s",
			outShape, want)
	}

	start = time.Now()
	v, err := volume.FromDecoderOutput(raw, p.cfg.GridSize, p.cfg.DecoderChannels, true)
	p.record(stageConvert, start)
	if err != nil {
		return nil, err
	}
	if klog.V(2).Enabled() {
		lo, hi := v.Range()
		klog.Infof("decoded volume %d^3: range [%g, %g]", v.Size, lo, hi)
	}
	return v, nil
}

// An Interpolation holds the frames produced from a pair of
// embeddings, each in [1, C, 4, 4, 4] layout.
type Interpolation struct {
	Frames [][]float32

	// Codes is the channel-code tensor fed to the model.
	Codes []float32

	// Warning is set when the model output did not hold
	// exactly Config.Frames frames.
	Warning *tensor.StructuralWarning
}

// Interpolate blends two channel-first embeddings into
// Config.Frames frames, drawing fresh channel codes for
// the call.
//
// If the model returns a buffer of the wrong length, the
// complete frames are kept and Warning is set. If no frame
// is complete, ErrNoFrames is returned.
func (p *Pipeline) Interpolate(a, b []float32) (*Interpolation, error) {
	if p.interpolator == nil {
		return nil, errors.Wrap(ErrMissingModel, "interpolator")
	}
	shape := tensor.EmbeddingShape(p.cfg.Channels)
	for _, emb := range [][]float32{a, b} {
		if err := shape.Check(emb); err != nil {
			return nil, err
		}
	}

	p.rngLock.Lock()
	codes := infer.NewCodes(p.rng)
	p.rngLock.Unlock()

	start := time.Now()
	p.inferLock.Lock()
	raw, outShape, err := p.interpolator.Interpolate(a, b, shape, codes)
	p.inferLock.Unlock()
	p.record(stageInfer, start)
	if err != nil {
		return nil, &InferenceError{Op: "interpolate", Err: err}
	}
	klog.V(1).Infof("interpolator returned %d values (shape %s)", len(raw), outShape)

	start = time.Now()
	defer p.record(stageConvert, start)
	frames, err := tensor.SplitFrames(raw, p.cfg.Frames, shape.Size())
	res := &Interpolation{Frames: frames, Codes: codes}
	if err != nil {
		var warning *tensor.StructuralWarning
		if !errors.As(err, &warning) {
			return nil, err
		}
		res.Warning = warning
	}
	if len(frames) == 0 {
		return nil, errors.Wrapf(ErrNoFrames, "%d values for frames of %d", len(raw), shape.Size())
	}
	return res, nil
}

// Mesh extracts the isosurface of v at Config.Isovalue.
// The progress callback may be nil.
func (p *Pipeline) Mesh(v *volume.Volume, progress func(done, total int)) (*mesh.Mesh, error) {
	start := time.Now()
	defer p.record(stageMesh, start)
	return mc.Extract(v, mc.Options{
		Isovalue:     p.cfg.Isovalue,
		ApplyOffsets: p.cfg.ApplyOffsets,
		Progress:     progress,
	})
}
