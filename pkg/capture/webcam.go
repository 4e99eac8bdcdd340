package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// ErrCameraNotFound is returned when the camera device cannot be opened.
var ErrCameraNotFound = errors.New("camera device not found")

// warmupFrames are discarded after opening; many webcams start dark.
const warmupFrames = 5

// Webcam captures JPEG frames from a local video device through OpenCV.
type Webcam struct {
	device  int
	capture *gocv.VideoCapture
	mu      sync.Mutex
}

// OpenWebcam opens video device id.
func OpenWebcam(device int) (*Webcam, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %v", ErrCameraNotFound, device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: %d", ErrCameraNotFound, device)
	}

	logging.Component("capture").Debugf("Opened camera %d", device)
	return &Webcam{device: device, capture: vc}, nil
}

// Capture grabs one frame and encodes it as JPEG.
func (w *Webcam) Capture(ctx context.Context) (*Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	mat := gocv.NewMat()
	defer mat.Close()

	for i := 0; i <= warmupFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !w.capture.Read(&mat) {
			return nil, ErrNoFrame
		}
	}
	if mat.Empty() {
		return nil, ErrNoFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return &Frame{
		Data:      data,
		Format:    "jpeg",
		Source:    fmt.Sprintf("camera:%d", w.device),
		Timestamp: time.Now(),
	}, nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capture.Close()
}
