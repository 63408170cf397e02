package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoFrames     = errors.New("interpolation produced no frames")
	ErrMissingModel = errors.New("model not configured")
)

// An InferenceError reports a failure inside a model
// collaborator. The collaborator's error is kept as is.
type InferenceError struct {
	Op  string
	Err error
}

func (i *InferenceError) Error() string {
	return fmt.Sprintf("%s inference: %v", i.Op, i.Err)
}

func (i *InferenceError) Unwrap() error {
	return i.Err
}
