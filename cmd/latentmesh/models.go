package main

import (
	"io"

	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/infer"
)

// A modelSource opens the neural collaborators named on the
// command line.
type modelSource interface {
	Decoder(libraryPath, modelPath string) (infer.Decoder, io.Closer, error)
	Interpolator(libraryPath, modelPath string) (infer.Interpolator, io.Closer, error)
}

// onnxModels loads models through ONNX Runtime.
type onnxModels struct{}

func (onnxModels) Decoder(libraryPath, modelPath string) (infer.Decoder, io.Closer, error) {
	rt, err := infer.OpenRuntime(libraryPath)
	if err != nil {
		return nil, nil, err
	}
	dec, err := rt.LoadDecoder(modelPath)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return dec, closers{dec, rt}, nil
}

func (onnxModels) Interpolator(libraryPath, modelPath string) (infer.Interpolator, io.Closer, error) {
	rt, err := infer.OpenRuntime(libraryPath)
	if err != nil {
		return nil, nil, err
	}
	interp, err := rt.LoadInterpolator(modelPath)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return interp, closers{interp, rt}, nil
}

// closers closes its members in order and reports the first
// error.
type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, x := range c {
		if err := x.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "close model")
		}
	}
	return first
}
