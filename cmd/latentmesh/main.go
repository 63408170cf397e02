// Command latentmesh decodes latent embeddings into
// triangle meshes.
//
// Subcommands:
//   - decode: embedding -> volume -> OBJ
//   - interpolate: two embeddings -> interpolation frames
//   - run: two embeddings -> frames -> one OBJ per frame
//   - mesh: saved volume (.npy or .json) -> OBJ
//   - split: stacked frame buffer -> one .npy per frame
package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/infer"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/latentmesh/pipeline"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/unixpickle/latentmesh/volume"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2

	// ExitShapeMismatch covers tensors and volumes whose
	// sizes do not fit the configured shapes.
	ExitShapeMismatch = 3

	ExitInferenceError = 4
	ExitIOError        = 5
	ExitFormatError    = 6
	ExitNoFrames       = 7
)

func main() {
	cmd := NewCommand(onnxModels{})
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFromError(err))
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var inferErr *pipeline.InferenceError
	switch {
	case errors.Is(err, pipeline.ErrInvalidConfig),
		errors.Is(err, tensor.ErrUnsupportedChannels):
		return ExitInvalidArgs
	case errors.Is(err, tensor.ErrShapeMismatch),
		errors.Is(err, volume.ErrInvalidVolume):
		return ExitShapeMismatch
	case errors.As(err, &inferErr),
		errors.Is(err, infer.ErrRuntimeUnavailable),
		errors.Is(err, infer.ErrBadOutput),
		errors.Is(err, pipeline.ErrMissingModel):
		return ExitInferenceError
	case errors.Is(err, mesh.ErrIOFailure),
		errors.Is(err, npy.ErrIOFailure):
		return ExitIOError
	case errors.Is(err, npy.ErrFormat),
		errors.Is(err, mesh.ErrFormat),
		errors.Is(err, volume.ErrFormat):
		return ExitFormatError
	case errors.Is(err, pipeline.ErrNoFrames):
		return ExitNoFrames
	default:
		return ExitGeneralError
	}
}
