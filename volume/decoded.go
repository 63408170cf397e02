package volume

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/tensor"
)

// OffsetChannels is the number of decoder channels, after
// the scalar channel, that carry per-voxel displacements.
const OffsetChannels = 3

// FromDecoderOutput builds a volume of edge length size
// from a decoder output with the given number of channels.
//
// Channel 0 is the scalar field. If there are at least four
// channels, channels 1-3 become the volume's offsets and
// any further channels are ignored.
//
// If channelFirst is set, raw is laid out as [1, C, L, L, L];
// otherwise it is [L, L, L, C].
func FromDecoderOutput(raw []float32, size, channels int, channelFirst bool) (*Volume, error) {
	if channels < 1 {
		return nil, errors.Wrapf(ErrInvalidVolume, "channels=%d", channels)
	}
	if size < 2 {
		return nil, errors.Wrapf(ErrInvalidVolume, "edge length %d (need at least 2)", size)
	}
	layout := tensor.CubeLayout(size, channels)
	if len(raw) != layout.Size() {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch,
			"decoder output for %d^3 x %d channels needs %d values, got %d",
			size, channels, layout.Size(), len(raw))
	}

	n := size * size * size
	values := make([]float32, n)
	var offsets []float32
	if channels > OffsetChannels {
		offsets = make([]float32, n*OffsetChannels)
	}

	if channelFirst {
		copy(values, raw[:n])
		if offsets != nil {
			for i := 0; i < n; i++ {
				for c := 0; c < OffsetChannels; c++ {
					offsets[i*OffsetChannels+c] = raw[(c+1)*n+i]
				}
			}
		}
	} else {
		for i := 0; i < n; i++ {
			values[i] = raw[i*channels]
			if offsets != nil {
				copy(offsets[i*OffsetChannels:(i+1)*OffsetChannels], raw[i*channels+1:])
			}
		}
	}

	v, err := New(values, size)
	if err != nil {
		return nil, err
	}
	v.Offsets = offsets
	return v, nil
}

// FromArray interprets an array of known shape as a volume.
//
// Accepted shapes are [L, L, L], [L, L, L, C], [C, L, L, L],
// [1, C, L, L, L] and [1, L, L, L, C]. When a 4D shape fits
// both channel orders, channel-last wins, since that is how
// decoded volumes are stored.
func FromArray(shape tensor.Shape, data []float32) (*Volume, error) {
	if err := shape.Check(data); err != nil {
		return nil, err
	}
	cube := func(a, b, c int) bool { return a == b && b == c }
	switch len(shape) {
	case 3:
		if cube(shape[0], shape[1], shape[2]) {
			return New(data, shape[0])
		}
	case 4:
		if cube(shape[0], shape[1], shape[2]) {
			return FromDecoderOutput(data, shape[0], shape[3], false)
		} else if cube(shape[1], shape[2], shape[3]) {
			return FromDecoderOutput(data, shape[1], shape[0], true)
		}
	case 5:
		if shape[0] != 1 {
			break
		}
		if cube(shape[2], shape[3], shape[4]) {
			return FromDecoderOutput(data, shape[2], shape[1], true)
		} else if cube(shape[1], shape[2], shape[3]) {
			return FromDecoderOutput(data, shape[1], shape[4], false)
		}
	}
	return nil, errors.Wrapf(ErrInvalidVolume, "cannot interpret shape %s as a volume", shape)
}
