package tensor

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrStructural is matched by every *StructuralWarning.
var ErrStructural = errors.New("structural warning")

// A StructuralWarning reports that a flat buffer did not
// hold exactly the expected number of frames. The split
// still returned every complete frame that fit.
type StructuralWarning struct {
	Frames         int
	ValuesPerFrame int
	Actual         int
	Produced       int
}

func (s *StructuralWarning) Error() string {
	return fmt.Sprintf("frame split: expected %d values (%d frames x %d), got %d; kept %d frame(s)",
		s.Frames*s.ValuesPerFrame, s.Frames, s.ValuesPerFrame, s.Actual, s.Produced)
}

func (s *StructuralWarning) Is(target error) bool {
	return target == ErrStructural
}

// SplitFrames slices data into frames copies of
// valuesPerFrame consecutive values.
//
// If len(data) differs from frames*valuesPerFrame, the
// split stops at the first frame that would run past the
// end of data and a *StructuralWarning is returned along
// with the frames produced so far. The caller decides
// whether fewer frames are acceptable.
func SplitFrames(data []float32, frames, valuesPerFrame int) ([][]float32, error) {
	if frames <= 0 || valuesPerFrame <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "frame split: frames=%d valuesPerFrame=%d",
			frames, valuesPerFrame)
	}

	result := make([][]float32, 0, frames)
	for f := 0; f < frames; f++ {
		start := f * valuesPerFrame
		end := start + valuesPerFrame
		if end > len(data) {
			break
		}
		frame := make([]float32, valuesPerFrame)
		copy(frame, data[start:end])
		result = append(result, frame)
		klog.V(2).Infof("frame %d: %d values", f, valuesPerFrame)
	}

	if len(data) != frames*valuesPerFrame {
		warning := &StructuralWarning{
			Frames:         frames,
			ValuesPerFrame: valuesPerFrame,
			Actual:         len(data),
			Produced:       len(result),
		}
		klog.Warning(warning.Error())
		return result, warning
	}
	return result, nil
}
