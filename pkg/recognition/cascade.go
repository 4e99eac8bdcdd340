package recognition

import (
	"fmt"
	"image"
	"sync"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"gocv.io/x/gocv"
)

// BoxDetector finds face bounding boxes in a grayscale image.
type BoxDetector interface {
	Detect(gray *image.Gray) ([]image.Rectangle, error)
	Close() error
}

// HaarDetector is a multi-scale sliding-window detector backed by an OpenCV Haar cascade.
type HaarDetector struct {
	classifier   gocv.CascadeClassifier
	scaleFactor  float64
	minNeighbors int
	minSize      image.Point
	mu           sync.Mutex
}

// NewHaarDetector loads the cascade XML at path.
func NewHaarDetector(path string) (*HaarDetector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, fmt.Errorf("%w: cannot load cascade %s", ErrModelNotLoaded, path)
	}

	return &HaarDetector{
		classifier:   classifier,
		scaleFactor:  1.1,
		minNeighbors: 4,
		minSize:      image.Pt(30, 30),
	}, nil
}

// Detect implements BoxDetector.
func (h *HaarDetector) Detect(gray *image.Gray) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.classifier.DetectMultiScaleWithParams(mat, h.scaleFactor, h.minNeighbors, 0, h.minSize, image.Point{}), nil
}

// Close releases the classifier.
func (h *HaarDetector) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classifier.Close()
}

// CascadeExtractor implements Extractor with a classical detector and a
// flattened grayscale patch as the embedding.
type CascadeExtractor struct {
	detector BoxDetector
}

// NewCascadeExtractor wraps a box detector.
func NewCascadeExtractor(detector BoxDetector) *CascadeExtractor {
	return &CascadeExtractor{detector: detector}
}

// Name implements Extractor.
func (c *CascadeExtractor) Name() string { return "cascade" }

// Dimension implements Extractor.
func (c *CascadeExtractor) Dimension() int { return CascadeDimension }

// Extract implements Extractor. The first box returned by the detector wins.
func (c *CascadeExtractor) Extract(imageData []byte) (Embedding, error) {
	if c.detector == nil {
		return nil, ErrModelNotLoaded
	}

	gray, err := DecodeGray(imageData)
	if err != nil {
		return nil, err
	}

	boxes, err := c.detector.Detect(gray)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(boxes) == 0 {
		return nil, ErrNoFaceDetected
	}

	logging.Component("recognition").Debugf("cascade detected %d face(s), using %v", len(boxes), boxes[0])
	return PatchVector(gray, boxes[0])
}

// Close releases the detector.
func (c *CascadeExtractor) Close() error {
	if c.detector == nil {
		return nil
	}
	return c.detector.Close()
}
