package npy

import "fmt"

// An ioError matches ErrIOFailure under errors.Is while
// keeping the underlying error reachable through Unwrap.
type ioError struct {
	msg   string
	cause error
}

func (i *ioError) Error() string {
	return i.msg + ": " + i.cause.Error()
}

func (i *ioError) Is(target error) bool {
	return target == ErrIOFailure
}

func (i *ioError) Unwrap() error {
	return i.cause
}

// WrapIOFailure annotates err and marks it as ErrIOFailure.
func WrapIOFailure(err error, format string, args ...interface{}) error {
	return &ioError{msg: fmt.Sprintf(format, args...), cause: err}
}
