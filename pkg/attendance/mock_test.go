package attendance

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"math/rand"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

// fakeExtractor derives a deterministic unit vector from the image bytes.
// A few magic payloads trigger the failure paths.
type fakeExtractor struct {
	dim   int
	calls int
}

func (f *fakeExtractor) Name() string   { return fmt.Sprintf("fake%d", f.dim) }
func (f *fakeExtractor) Dimension() int { return f.dim }

func (f *fakeExtractor) Extract(data []byte) (recognition.Embedding, error) {
	f.calls++
	switch string(data) {
	case "noface":
		return nil, recognition.ErrNoFaceDetected
	case "corrupt":
		return nil, errors.New("cannot decode image")
	case "panic":
		panic("native crash")
	case "short":
		return make(recognition.Embedding, 3), nil
	}

	h := fnv.New64a()
	_, _ = h.Write(data)
	r := rand.New(rand.NewSource(int64(h.Sum64())))

	e := make(recognition.Embedding, f.dim)
	for i := range e {
		e[i] = r.Float32()*2 - 1
	}
	return recognition.Normalize(e), nil
}

// uniformDetector reports one box covering the whole image, or none when
// every pixel has the same value.
type uniformDetector struct{}

func (uniformDetector) Detect(gray *image.Gray) ([]image.Rectangle, error) {
	first := gray.Pix[0]
	for _, p := range gray.Pix {
		if p != first {
			return []image.Rectangle{gray.Bounds()}, nil
		}
	}
	return nil, nil
}

func (uniformDetector) Close() error { return nil }

type failingLedger struct {
	err error
}

func (f *failingLedger) Mark(ctx context.Context, userID int64, at time.Time) (*storage.Record, error) {
	return nil, f.err
}

func (f *failingLedger) Records(ctx context.Context) ([]storage.Record, error) {
	return nil, f.err
}

type failingGallery struct {
	err error
}

func (f *failingGallery) Enroll(ctx context.Context, name string, embedding recognition.Embedding, image []byte) (*storage.User, error) {
	return nil, f.err
}

func (f *failingGallery) AllEmbeddings(ctx context.Context) ([]recognition.Candidate, error) {
	return nil, f.err
}

func (f *failingGallery) Image(ctx context.Context, userID int64) ([]byte, error) {
	return nil, f.err
}

func (f *failingGallery) Users(ctx context.Context) ([]storage.User, error) {
	return nil, f.err
}
