// internal/signal/source.go
// Package signal supplies the recorded signal buffers processed for each subject.
package signal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShortBuffer indicates a buffer file holds fewer samples than required
	ErrShortBuffer = errors.New("buffer file is shorter than the configured buffer size")
	// ErrUnknownFormat indicates an unsupported sample encoding
	ErrUnknownFormat = errors.New("unknown input format")
	// ErrNoBuffer indicates the source has no buffer for the requested index
	ErrNoBuffer = errors.New("no such buffer")
	// ErrInvalidIndex indicates a buffer index below 1
	ErrInvalidIndex = errors.New("buffer indices start at 1")
)

// Format is the on-disk sample encoding.
type Format string

const (
	// F64LE is little-endian IEEE 754 float64, as written by the front-end simulator
	F64LE Format = "F64_LE"
	// F32LE is little-endian IEEE 754 float32
	F32LE Format = "F32_LE"
)

// SampleSize returns the number of bytes per sample, or 0 for an unknown format.
func (f Format) SampleSize() int {
	switch f {
	case F64LE:
		return 8
	case F32LE:
		return 4
	default:
		return 0
	}
}

// Buffer is one processing step: a fixed number of samples and their RMS.
type Buffer struct {
	Samples []float64
	RMS     float64
}

// Source supplies buffers per subject. Buffer indices start at 1.
type Source interface {
	Read(ctx context.Context, subject string, index int) (Buffer, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, subject string, index int) (Buffer, error)

// Read calls f
func (f SourceFunc) Read(ctx context.Context, subject string, index int) (Buffer, error) {
	return f(ctx, subject, index)
}

// RMS returns the root-mean-square of samples, 0 for an empty slice.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return floats.Norm(samples, 2) / math.Sqrt(float64(len(samples)))
}

// NewBuffer wraps samples and computes their RMS.
func NewBuffer(samples []float64) Buffer {
	return Buffer{Samples: samples, RMS: RMS(samples)}
}

// FileSource reads <dir>/<subject>/buffer<N>.bin files.
type FileSource struct {
	dir    string
	format Format
	size   int
}

// NewFileSource creates a source reading size samples per buffer from dir.
func NewFileSource(dir string, format Format, size int) (*FileSource, error) {
	if format.SampleSize() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if size < 1 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", size)
	}
	return &FileSource{dir: dir, format: format, size: size}, nil
}

// Path returns the file holding buffer index of subject.
func (s *FileSource) Path(subject string, index int) string {
	return filepath.Join(s.dir, subject, "buffer"+strconv.Itoa(index)+".bin")
}

// Read loads one buffer. Extra trailing bytes are ignored.
func (s *FileSource) Read(ctx context.Context, subject string, index int) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return Buffer{}, err
	}
	if index < 1 {
		return Buffer{}, fmt.Errorf("%w: got %d", ErrInvalidIndex, index)
	}

	path := s.Path(subject, index)
	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to read buffer: %w", err)
	}

	want := s.size * s.format.SampleSize()
	if len(data) < want {
		return Buffer{}, fmt.Errorf("%s: %w: got %d bytes, want %d", path, ErrShortBuffer, len(data), want)
	}

	samples, err := Decode(data[:want], s.format)
	if err != nil {
		return Buffer{}, err
	}
	return NewBuffer(samples), nil
}

// Decode converts raw little-endian samples to float64.
func Decode(data []byte, format Format) ([]float64, error) {
	size := format.SampleSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	samples := make([]float64, len(data)/size)
	for i := range samples {
		offset := i * size
		switch format {
		case F64LE:
			samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		case F32LE:
			samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])))
		}
	}
	return samples, nil
}

// Encode converts samples to raw little-endian bytes.
func Encode(samples []float64, format Format) ([]byte, error) {
	size := format.SampleSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	data := make([]byte, len(samples)*size)
	for i, v := range samples {
		offset := i * size
		switch format {
		case F64LE:
			binary.LittleEndian.PutUint64(data[offset:], math.Float64bits(v))
		case F32LE:
			binary.LittleEndian.PutUint32(data[offset:], math.Float32bits(float32(v)))
		}
	}
	return data, nil
}

// MemorySource serves buffers held in memory, keyed by subject. Buffer N is
// element N-1 of the subject's slice.
type MemorySource struct {
	buffers map[string][][]float64
}

// NewMemorySource creates an in-memory source
func NewMemorySource(buffers map[string][][]float64) *MemorySource {
	return &MemorySource{buffers: buffers}
}

// Read returns a copy of the requested buffer
func (s *MemorySource) Read(ctx context.Context, subject string, index int) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return Buffer{}, err
	}
	if index < 1 {
		return Buffer{}, fmt.Errorf("%w: got %d", ErrInvalidIndex, index)
	}
	bufs := s.buffers[subject]
	if index > len(bufs) {
		return Buffer{}, fmt.Errorf("%w: subject %s buffer %d", ErrNoBuffer, subject, index)
	}
	return NewBuffer(append([]float64(nil), bufs[index-1]...)), nil
}
