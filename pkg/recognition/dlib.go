package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// DlibDimension is the length of a dlib face descriptor.
const DlibDimension = len(face.Descriptor{})

// DlibModels lists the files LoadModels expects in the model directory.
var DlibModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
}

// FaceEngine is the subset of *face.Recognizer used by DlibExtractor.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// Face is a detected face with its bounding box and descriptor.
type Face struct {
	BoundingBox image.Rectangle
	Descriptor  face.Descriptor
}

// DlibExtractor implements Extractor using dlib via go-face.
type DlibExtractor struct {
	engine    FaceEngine
	modelPath string
	loaded    bool
	mu        sync.Mutex
	factory   func(modelPath string) (FaceEngine, error)
}

// NewDlibExtractor creates an extractor. Call LoadModels before Extract.
func NewDlibExtractor() *DlibExtractor {
	return &DlibExtractor{
		factory: func(modelPath string) (FaceEngine, error) {
			return face.NewRecognizer(modelPath)
		},
	}
}

// Name implements Extractor.
func (d *DlibExtractor) Name() string { return "dlib" }

// Dimension implements Extractor.
func (d *DlibExtractor) Dimension() int { return DlibDimension }

// LoadModels loads the dlib models from modelPath. Loading twice is a no-op.
func (d *DlibExtractor) LoadModels(modelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return nil
	}

	logging.Component("recognition").Infof("Loading dlib models from: %s", modelPath)

	engine, err := d.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	d.engine = engine
	d.modelPath = modelPath
	d.loaded = true
	return nil
}

// IsLoaded returns true if models are loaded.
func (d *DlibExtractor) IsLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Close releases the native recognizer.
func (d *DlibExtractor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine != nil {
		d.engine.Close()
		d.engine = nil
	}
	d.loaded = false
	return nil
}

// DetectFaces returns every face dlib finds, in detector order.
func (d *DlibExtractor) DetectFaces(imageData []byte) ([]Face, error) {
	if len(imageData) == 0 {
		return nil, ErrEmptyImage
	}

	jpegData, err := EnsureJPEG(imageData)
	if err != nil {
		return nil, err
	}

	// The dlib recognizer is not safe for concurrent use.
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return nil, ErrModelNotLoaded
	}

	faces, err := d.engine.Recognize(jpegData)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		result[i] = Face{BoundingBox: f.Rectangle, Descriptor: f.Descriptor}
	}

	logging.Component("recognition").Debugf("dlib detected %d face(s)", len(result))
	return result, nil
}

// Extract implements Extractor. Only the first detected face is used.
func (d *DlibExtractor) Extract(imageData []byte) (Embedding, error) {
	faces, err := d.DetectFaces(imageData)
	if err != nil {
		return nil, err
	}

	desc := faces[0].Descriptor
	emb := make(Embedding, len(desc))
	copy(emb, desc[:])
	return emb, nil
}

// EnsureJPEG re-encodes non-JPEG input as JPEG. JPEG input is returned as is.
func EnsureJPEG(data []byte) ([]byte, error) {
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
