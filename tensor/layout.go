package tensor

import "github.com/pkg/errors"

// A Layout describes a 4D grid of Depth x Height x Width
// cells with Channels values per cell.
type Layout struct {
	Depth    int
	Height   int
	Width    int
	Channels int
}

// EmbeddingLayout is the 4x4x4 layout of a latent
// embedding with a supported channel width.
func EmbeddingLayout(channels int) (Layout, error) {
	if err := CheckChannels(channels); err != nil {
		return Layout{}, err
	}
	return Layout{
		Depth:    EmbeddingExtent,
		Height:   EmbeddingExtent,
		Width:    EmbeddingExtent,
		Channels: channels,
	}, nil
}

// CubeLayout is an edge x edge x edge layout.
func CubeLayout(edge, channels int) Layout {
	return Layout{Depth: edge, Height: edge, Width: edge, Channels: channels}
}

func (l Layout) Size() int {
	return l.Depth * l.Height * l.Width * l.Channels
}

// ChannelLastShape is [D, H, W, C].
func (l Layout) ChannelLastShape() Shape {
	return Shape{l.Depth, l.Height, l.Width, l.Channels}
}

// ChannelFirstShape is [1, C, D, H, W].
func (l Layout) ChannelFirstShape() Shape {
	return Shape{1, l.Channels, l.Depth, l.Height, l.Width}
}

// ToChannelFirst converts a DHWC embedding buffer into the
// NCDHW layout expected by the inference collaborator.
func ToChannelFirst(flat []float32, channels int) ([]float32, error) {
	l, err := EmbeddingLayout(channels)
	if err != nil {
		return nil, err
	}
	return PermuteToChannelFirst(flat, l)
}

// ToChannelLast is the inverse of ToChannelFirst.
func ToChannelLast(flat []float32, channels int) ([]float32, error) {
	l, err := EmbeddingLayout(channels)
	if err != nil {
		return nil, err
	}
	return PermuteToChannelLast(flat, l)
}

// PermuteToChannelFirst reorders a channel-last buffer for
// an arbitrary layout into channel-first order.
func PermuteToChannelFirst(flat []float32, l Layout) ([]float32, error) {
	if err := l.check(flat); err != nil {
		return nil, err
	}
	out := make([]float32, len(flat))
	src := 0
	for d := 0; d < l.Depth; d++ {
		for h := 0; h < l.Height; h++ {
			for w := 0; w < l.Width; w++ {
				spatial := (d*l.Height+h)*l.Width + w
				for c := 0; c < l.Channels; c++ {
					out[c*l.Depth*l.Height*l.Width+spatial] = flat[src]
					src++
				}
			}
		}
	}
	return out, nil
}

// PermuteToChannelLast reorders a channel-first buffer for
// an arbitrary layout into channel-last order.
func PermuteToChannelLast(flat []float32, l Layout) ([]float32, error) {
	if err := l.check(flat); err != nil {
		return nil, err
	}
	out := make([]float32, len(flat))
	dst := 0
	for d := 0; d < l.Depth; d++ {
		for h := 0; h < l.Height; h++ {
			for w := 0; w < l.Width; w++ {
				spatial := (d*l.Height+h)*l.Width + w
				for c := 0; c < l.Channels; c++ {
					out[dst] = flat[c*l.Depth*l.Height*l.Width+spatial]
					dst++
				}
			}
		}
	}
	return out, nil
}

func (l Layout) check(flat []float32) error {
	if l.Depth <= 0 || l.Height <= 0 || l.Width <= 0 || l.Channels <= 0 {
		return errors.Wrapf(ErrShapeMismatch, "invalid layout %+v", l)
	}
	if len(flat) != l.Size() {
		return errors.Wrapf(ErrShapeMismatch, "layout %dx%dx%dx%d needs %d values, got %d",
			l.Depth, l.Height, l.Width, l.Channels, l.Size(), len(flat))
	}
	return nil
}
