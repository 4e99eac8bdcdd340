// Package assets fetches the model files the extractors need: the dlib
// landmark and recognition networks, and the OpenCV Haar cascade.
package assets

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// Asset is one downloadable model file.
type Asset struct {
	Name       string
	URL        string
	Compressed bool // bzip2
}

// DlibAssets returns the models the dlib extractor loads.
func DlibAssets() []Asset {
	return []Asset{
		{
			Name:       "shape_predictor_5_face_landmarks.dat",
			URL:        "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
			Compressed: true,
		},
		{
			Name:       "dlib_face_recognition_resnet_model_v1.dat",
			URL:        "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
			Compressed: true,
		},
	}
}

// CascadeAsset returns the Haar cascade stored at path and fetched from url.
func CascadeAsset(path, url string) Asset {
	return Asset{Name: filepath.Base(path), URL: url}
}

// Downloader fetches assets over HTTP.
type Downloader struct {
	Client *http.Client
	// Progress receives a progress bar per download; nil disables it.
	Progress io.Writer
}

// NewDownloader creates a downloader with a generous timeout.
func NewDownloader(progress io.Writer) *Downloader {
	return &Downloader{
		Client:   &http.Client{Timeout: 10 * time.Minute},
		Progress: progress,
	}
}

// Ensure downloads every asset missing from dir.
func (d *Downloader) Ensure(ctx context.Context, dir string, assets []Asset) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, a := range assets {
		target := filepath.Join(dir, a.Name)
		if _, err := os.Stat(target); err == nil {
			logging.Debugf("Model %s already exists, skipping", a.Name)
			continue
		}

		logging.Infof("Downloading %s...", a.Name)
		if err := d.fetch(ctx, a, target); err != nil {
			return fmt.Errorf("failed to download %s: %w", a.Name, err)
		}
		logging.Infof("Successfully downloaded %s", a.Name)
	}
	return nil
}

// EnsureBestEffort is Ensure with failures logged and ignored; extraction
// then fails at runtime with a missing-model error.
func (d *Downloader) EnsureBestEffort(ctx context.Context, dir string, assets []Asset) {
	if err := d.Ensure(ctx, dir, assets); err != nil {
		logging.WithError(err).Warn("Model download failed; face detection will be unavailable")
	}
}

// Missing returns the assets not present in dir.
func Missing(dir string, assets []Asset) []Asset {
	var missing []Asset
	for _, a := range assets {
		if _, err := os.Stat(filepath.Join(dir, a.Name)); err != nil {
			missing = append(missing, a)
		}
	}
	return missing
}

func (d *Downloader) fetch(ctx context.Context, a Asset, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if d.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription(a.Name),
			progressbar.OptionSetWriter(d.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		defer func() { _ = bar.Finish() }()
		body = io.TeeReader(resp.Body, bar)
	}
	if a.Compressed {
		body = bzip2.NewReader(body)
	}

	// Write next to the target and rename, so a partial download never
	// looks like a present model.
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+a.Name+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
