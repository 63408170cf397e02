package pipeline

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/tensor"
)

var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// Config controls how embeddings are decoded, meshed and
// written out.
type Config struct {
	// Channels is the embedding channel width, 64 or 128.
	Channels int

	// Frames is the number of frames the interpolator is
	// expected to produce.
	Frames int

	// GridSize is the edge length L of decoded volumes.
	GridSize int

	// DecoderChannels is the channel count K of the decoder
	// output [1, K, L, L, L]. Channel 0 is the scalar field;
	// channels 1-3, when present, are vertex offsets.
	DecoderChannels int

	Isovalue     float32
	ApplyOffsets bool

	// Workers bounds how many frames are meshed at once.
	Workers int

	// Seed seeds the channel-code generator. Zero picks a
	// seed from the clock.
	Seed int64

	// OutputDir receives exported files. Empty disables
	// saving in Run.
	OutputDir string

	SaveSTL     bool
	SaveVolumes bool
}

func DefaultConfig() Config {
	return Config{
		Channels:        128,
		Frames:          3,
		GridSize:        64,
		DecoderChannels: 4,
		Isovalue:        0,
		ApplyOffsets:    true,
		Workers:         1,
		OutputDir:       ".",
	}
}

func (c Config) Validate() error {
	if err := tensor.CheckChannels(c.Channels); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.Frames < 1 {
		return errors.Wrapf(ErrInvalidConfig, "frames=%d", c.Frames)
	}
	if c.GridSize < 2 {
		return errors.Wrapf(ErrInvalidConfig, "grid size %d (need at least 2)", c.GridSize)
	}
	if c.DecoderChannels < 1 {
		return errors.Wrapf(ErrInvalidConfig, "decoder channels=%d", c.DecoderChannels)
	}
	if c.Workers < 1 {
		return errors.Wrapf(ErrInvalidConfig, "workers=%d", c.Workers)
	}
	if math.IsNaN(float64(c.Isovalue)) || math.IsInf(float64(c.Isovalue), 0) {
		return errors.Wrapf(ErrInvalidConfig, "isovalue %v", c.Isovalue)
	}
	return nil
}

// embeddingValues is the number of values in one embedding.
func (c Config) embeddingValues() int {
	return tensor.EmbeddingShape(c.Channels).Size()
}

func (c Config) decoderShape() tensor.Shape {
	l := c.GridSize
	return tensor.Shape{1, c.DecoderChannels, l, l, l}
}
