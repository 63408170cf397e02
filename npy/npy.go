// Package npy reads and writes float32 arrays in NumPy's
// .npy and .npz formats.
package npy

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	ErrFormat    = errors.New("malformed array file")
	ErrIOFailure = errors.New("array file I/O failure")
)

const magic = "\x93NUMPY"

// An Array is a row-major float32 tensor.
type Array struct {
	Shape tensor.Shape
	Data  []float32
}

// NewArray checks that data fits shape.
func NewArray(shape tensor.Shape, data []float32) (*Array, error) {
	if err := shape.Check(data); err != nil {
		return nil, err
	}
	return &Array{Shape: shape, Data: data}, nil
}

// ReadFile reads a .npy file.
func ReadFile(filePath string) (*Array, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, WrapIOFailure(err, "open %s", filePath)
	}
	defer f.Close()
	a, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "read %s", filePath)
	}
	klog.V(1).Infof("loaded %s: shape %s", filePath, a.Shape)
	return a, nil
}

// Read decodes a .npy stream. Floating point, integer and
// boolean element types are converted to float32.
func Read(r io.Reader) (*Array, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	descr, shape, fortranOrder, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	dec, err := decoderFor(descr)
	if err != nil {
		return nil, err
	}

	n, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt/dec.size {
		return nil, errors.Wrapf(ErrFormat, "shape %s is too large for %s", shape, descr)
	}

	// The header is untrusted, so the buffer only grows as
	// data actually arrives.
	numBytes := n * dec.size
	var buf bytes.Buffer
	got, err := io.Copy(&buf, io.LimitReader(r, int64(numBytes)))
	if err != nil {
		return nil, WrapIOFailure(err, "read data")
	}
	if got < int64(numBytes) {
		return nil, errors.Wrapf(ErrFormat, "data for shape %s needs %d bytes, got %d",
			shape, numBytes, got)
	}
	raw := buf.Bytes()
	data := make([]float32, n)
	for i := range data {
		data[i] = dec.decode(raw[i*dec.size:])
	}
	if fortranOrder && len(shape) > 1 {
		data = fortranToC(data, shape)
	}
	return &Array{Shape: shape, Data: data}, nil
}

// elementCount multiplies out the dimensions, rejecting
// products that do not fit in an int.
func elementCount(shape tensor.Shape) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errors.Wrapf(ErrFormat, "negative dimension in shape %s", shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, errors.Wrapf(ErrFormat, "shape %s overflows", shape)
		}
		n *= d
	}
	return n, nil
}

func readHeader(r io.Reader) (string, error) {
	var preamble [8]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return "", errors.Wrapf(ErrFormat, "read preamble: %v", err)
	}
	if string(preamble[:6]) != magic {
		return "", errors.Wrap(ErrFormat, "magic string mismatch")
	}
	var headerLen int
	switch major := preamble[6]; major {
	case 1:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", errors.Wrapf(ErrFormat, "read header length: %v", err)
		}
		headerLen = int(binary.LittleEndian.Uint16(buf[:]))
	case 2, 3:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", errors.Wrapf(ErrFormat, "read header length: %v", err)
		}
		headerLen = int(binary.LittleEndian.Uint32(buf[:]))
	default:
		return "", errors.Wrapf(ErrFormat, "unsupported version %d.%d", major, preamble[7])
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", errors.Wrapf(ErrFormat, "read header: %v", err)
	}
	return string(header), nil
}

var (
	descrExpr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranExpr = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeExpr   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

func parseHeader(header string) (descr string, shape tensor.Shape, fortranOrder bool, err error) {
	m := descrExpr.FindStringSubmatch(header)
	if m == nil {
		return "", nil, false, errors.Wrapf(ErrFormat, "no 'descr' in header %q", header)
	}
	descr = m[1]

	m = fortranExpr.FindStringSubmatch(header)
	if m == nil {
		return "", nil, false, errors.Wrapf(ErrFormat, "no 'fortran_order' in header %q", header)
	}
	fortranOrder = m[1] == "True"

	m = shapeExpr.FindStringSubmatch(header)
	if m == nil {
		return "", nil, false, errors.Wrapf(ErrFormat, "no 'shape' in header %q", header)
	}
	shape = tensor.Shape{}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, convErr := strconv.Atoi(part)
		if convErr != nil || dim < 0 {
			return "", nil, false, errors.Wrapf(ErrFormat, "bad dimension %q", part)
		}
		shape = append(shape, dim)
	}
	return descr, shape, fortranOrder, nil
}

type elementDecoder struct {
	size   int
	decode func(b []byte) float32
}

func decoderFor(descr string) (*elementDecoder, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if strings.HasPrefix(descr, ">") {
		order = binary.BigEndian
	}
	switch strings.TrimLeft(descr, "<>=|") {
	case "f4":
		return &elementDecoder{4, func(b []byte) float32 {
			return math.Float32frombits(order.Uint32(b))
		}}, nil
	case "f8":
		return &elementDecoder{8, func(b []byte) float32 {
			return float32(math.Float64frombits(order.Uint64(b)))
		}}, nil
	case "f2":
		return &elementDecoder{2, func(b []byte) float32 {
			return float16.Frombits(order.Uint16(b)).Float32()
		}}, nil
	case "b1", "?", "u1":
		return &elementDecoder{1, func(b []byte) float32 {
			return float32(b[0])
		}}, nil
	case "i1":
		return &elementDecoder{1, func(b []byte) float32 {
			return float32(int8(b[0]))
		}}, nil
	case "i4":
		return &elementDecoder{4, func(b []byte) float32 {
			return float32(int32(order.Uint32(b)))
		}}, nil
	}
	return nil, errors.Wrapf(ErrFormat, "unsupported dtype %q", descr)
}

func fortranToC(data []float32, shape tensor.Shape) []float32 {
	strides := make([]int, len(shape))
	stride := 1
	for axis, dim := range shape {
		strides[axis] = stride
		stride *= dim
	}
	res := make([]float32, len(data))
	idx := make([]int, len(shape))
	for i := range res {
		var src int
		for axis, j := range idx {
			src += j * strides[axis]
		}
		res[i] = data[src]
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
		}
	}
	return res
}

// Encode produces a version 1.0 .npy file for a little
// endian float32 array. The header is padded so that the
// data starts on a 16-byte boundary.
func Encode(a *Array) ([]byte, error) {
	if err := a.Shape.Check(a.Data); err != nil {
		return nil, err
	}
	var shapeStr string
	switch len(a.Shape) {
	case 0:
		shapeStr = "()"
	case 1:
		shapeStr = fmt.Sprintf("(%d,)", a.Shape[0])
	default:
		parts := make([]string, len(a.Shape))
		for i, d := range a.Shape {
			parts[i] = strconv.Itoa(d)
		}
		shapeStr = "(" + strings.Join(parts, ", ") + ")"
	}
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': " + shapeStr + ", }"
	for (len(magic)+4+len(header)+1)%16 != 0 {
		header += " "
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Grow(len(magic) + 4 + len(header) + 4*len(a.Data))
	buf.WriteString(magic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	var word [4]byte
	for _, x := range a.Data {
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(x))
		buf.Write(word[:])
	}
	return buf.Bytes(), nil
}

// Write writes a .npy stream.
func Write(w io.Writer, a *Array) error {
	data, err := Encode(a)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return WrapIOFailure(err, "write array")
	}
	return nil
}

// WriteFile writes a .npy file.
func WriteFile(filePath string, a *Array) error {
	data, err := Encode(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return WrapIOFailure(err, "write %s", filePath)
	}
	klog.V(1).Infof("saved %s: shape %s (%s)", filePath, a.Shape, humanize.Bytes(uint64(len(data))))
	return nil
}

// WriteNPZ writes a zip archive with one .npy entry per
// named array.
func WriteNPZ(filePath string, arrays map[string]*Array) error {
	w, err := os.Create(filePath)
	if err != nil {
		return WrapIOFailure(err, "create %s", filePath)
	}
	if err := writeNPZ(w, arrays); err != nil {
		w.Close()
		return errors.WithMessagef(err, "write %s", filePath)
	}
	if err := w.Close(); err != nil {
		return WrapIOFailure(err, "close %s", filePath)
	}
	return nil
}

func writeNPZ(w io.Writer, arrays map[string]*Array) error {
	zipWriter := zip.NewWriter(w)
	for name, a := range arrays {
		data, err := Encode(a)
		if err != nil {
			return errors.WithMessagef(err, "encode %q", name)
		}
		fileWriter, err := zipWriter.Create(name + ".npy")
		if err != nil {
			return WrapIOFailure(err, "create %s.npy", name)
		}
		if _, err := fileWriter.Write(data); err != nil {
			return WrapIOFailure(err, "write %s.npy", name)
		}
	}
	if err := zipWriter.Close(); err != nil {
		return WrapIOFailure(err, "finish archive")
	}
	return nil
}

// ReadNPZ reads every .npy entry of a zip archive, keyed by
// name without the extension.
func ReadNPZ(filePath string) (map[string]*Array, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, WrapIOFailure(err, "open %s", filePath)
	}
	defer zr.Close()

	res := map[string]*Array{}
	for _, f := range zr.File {
		clean := path.Clean(f.Name)
		if path.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return nil, errors.Wrapf(ErrFormat, "invalid entry name %q", f.Name)
		}
		if !strings.HasSuffix(clean, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, WrapIOFailure(err, "open entry %s", f.Name)
		}
		a, err := Read(rc)
		rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "entry %s", f.Name)
		}
		res[strings.TrimSuffix(clean, ".npy")] = a
	}
	return res, nil
}
