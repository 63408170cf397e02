package npy

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// ReadRaw reads a headerless stream of little endian
// float32 values.
func ReadRaw(r io.Reader) ([]float32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, WrapIOFailure(err, "read raw data")
	}
	if len(data)%4 != 0 {
		return nil, errors.Wrapf(ErrFormat, "raw float32 data has %d bytes", len(data))
	}
	res := make([]float32, len(data)/4)
	for i := range res {
		res[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return res, nil
}

// ReadRawFile reads a headerless float32 file.
func ReadRawFile(filePath string) ([]float32, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, WrapIOFailure(err, "open %s", filePath)
	}
	defer f.Close()
	return ReadRaw(f)
}
