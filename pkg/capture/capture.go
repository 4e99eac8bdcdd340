// Package capture provides the image buffers fed to registration and
// attendance: files, standard input, or a local webcam.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxImageBytes bounds how much is read from a single source.
const MaxImageBytes = 32 << 20

// Frame is one captured, encoded image.
type Frame struct {
	Data      []byte
	Format    string // "jpeg" or "png"
	Source    string
	Timestamp time.Time
}

// Source produces frames.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
	Close() error
}

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrUnsupportedFormat is returned for data that is neither JPEG nor PNG.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ErrTooLarge is returned when a source exceeds MaxImageBytes.
var ErrTooLarge = errors.New("image too large")

// Sniff returns "jpeg" or "png" for supported image data.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNoFrame
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpeg", nil
	case "image/png":
		return "png", nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// NewFrame validates data and wraps it in a Frame.
func NewFrame(data []byte, source string) (*Frame, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &Frame{Data: data, Format: format, Source: source, Timestamp: time.Now()}, nil
}

// FileSource reads a single image file.
type FileSource struct {
	Path string
}

func (f *FileSource) Capture(_ context.Context) (*Frame, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	data, err := readLimited(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return NewFrame(data, f.Path)
}

func (f *FileSource) Close() error { return nil }

// ReaderSource reads one image from a stream such as standard input.
type ReaderSource struct {
	Reader io.Reader
	Name   string
}

func (r *ReaderSource) Capture(_ context.Context) (*Frame, error) {
	data, err := readLimited(r.Reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name, err)
	}
	return NewFrame(data, r.Name)
}

func (r *ReaderSource) Close() error { return nil }

func readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if n > MaxImageBytes {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

// Open resolves an image source: "-" reads stdin, "camera:N" opens webcam N,
// anything else is a file path.
func Open(target string, stdin io.Reader) (Source, error) {
	switch {
	case target == "":
		return nil, ErrNoFrame
	case target == "-":
		return &ReaderSource{Reader: stdin, Name: "stdin"}, nil
	case strings.HasPrefix(target, "camera:"):
		device, err := strconv.Atoi(strings.TrimPrefix(target, "camera:"))
		if err != nil {
			return nil, fmt.Errorf("invalid camera target %q", target)
		}
		cam, err := OpenWebcam(device)
		if err != nil {
			return nil, err
		}
		return cam, nil
	default:
		return &FileSource{Path: target}, nil
	}
}
