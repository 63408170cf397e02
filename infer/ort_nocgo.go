//go:build !cgo

package infer

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/tensor"
)

var errNoCgo = errors.Wrap(ErrRuntimeUnavailable, "built without cgo")

// Runtime is unavailable in builds without cgo.
type Runtime struct{}

func OpenRuntime(libraryPath string) (*Runtime, error) {
	return nil, errNoCgo
}

func (r *Runtime) Close() error {
	return nil
}

func (r *Runtime) LoadDecoder(modelPath string) (*DecoderSession, error) {
	return nil, errNoCgo
}

func (r *Runtime) LoadInterpolator(modelPath string) (*InterpolatorSession, error) {
	return nil, errNoCgo
}

type DecoderSession struct{}

func (d *DecoderSession) Decode(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
	return nil, nil, errNoCgo
}

func (d *DecoderSession) Close() error {
	return nil
}

type InterpolatorSession struct{}

func (i *InterpolatorSession) Interpolate(a, b []float32, embShape tensor.Shape,
	codes []float32) ([]float32, tensor.Shape, error) {
	return nil, nil, errNoCgo
}

func (i *InterpolatorSession) Close() error {
	return nil
}
