package assets

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// bzip2 of "dlib model bytes\n"
var compressedModel = []byte{
	0x42, 0x5a, 0x68, 0x39, 0x31, 0x41, 0x59, 0x26, 0x53, 0x59, 0xe2, 0x0d, 0x25, 0xfc, 0x00, 0x00,
	0x03, 0x51, 0x80, 0x00, 0x10, 0x40, 0x00, 0x16, 0x26, 0x8c, 0x20, 0x20, 0x00, 0x31, 0x03, 0x40,
	0xd0, 0x29, 0x81, 0xa6, 0x41, 0x12, 0x28, 0xd8, 0x40, 0xc5, 0xa8, 0xd5, 0xc2, 0xee, 0x48, 0xa7,
	0x0a, 0x12, 0x1c, 0x41, 0xa4, 0xbf, 0x80,
}

func newAssetServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/model.dat.bz2":
			_, _ = w.Write(compressedModel)
		case "/cascade.xml":
			_, _ = w.Write([]byte("<opencv_storage/>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsure_DownloadsAndDecompresses(t *testing.T) {
	var hits int32
	srv := newAssetServer(t, &hits)
	dir := filepath.Join(t.TempDir(), "models")

	var progress bytes.Buffer
	d := NewDownloader(&progress)
	assets := []Asset{
		{Name: "model.dat", URL: srv.URL + "/model.dat.bz2", Compressed: true},
		CascadeAsset(filepath.Join(dir, "cascade.xml"), srv.URL+"/cascade.xml"),
	}

	if err := d.Ensure(context.Background(), dir, assets); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	model, err := os.ReadFile(filepath.Join(dir, "model.dat"))
	if err != nil {
		t.Fatalf("model not written: %v", err)
	}
	if string(model) != "dlib model bytes\n" {
		t.Errorf("model = %q", model)
	}

	cascade, err := os.ReadFile(filepath.Join(dir, "cascade.xml"))
	if err != nil || string(cascade) != "<opencv_storage/>" {
		t.Errorf("cascade = %q, %v", cascade, err)
	}
	if progress.Len() == 0 {
		t.Error("expected progress output")
	}
	if len(Missing(dir, assets)) != 0 {
		t.Error("Missing() reports assets after download")
	}

	// Present files are not fetched again.
	before := atomic.LoadInt32(&hits)
	if err := d.Ensure(context.Background(), dir, assets); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if atomic.LoadInt32(&hits) != before {
		t.Error("existing assets were downloaded again")
	}
}

func TestEnsure_BadStatus(t *testing.T) {
	var hits int32
	srv := newAssetServer(t, &hits)
	dir := t.TempDir()

	d := NewDownloader(nil)
	err := d.Ensure(context.Background(), dir, []Asset{{Name: "gone.dat", URL: srv.URL + "/gone"}})
	if err == nil || !strings.Contains(err.Error(), "bad status") {
		t.Fatalf("expected bad status error, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "gone.dat")); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestEnsureBestEffort_IgnoresFailure(t *testing.T) {
	dir := t.TempDir()
	d := NewDownloader(nil)
	// Unroutable URL; must not panic or return.
	d.EnsureBestEffort(context.Background(), dir, []Asset{{Name: "x.dat", URL: "http://127.0.0.1:1/x"}})

	if len(Missing(dir, []Asset{{Name: "x.dat"}})) != 1 {
		t.Error("expected asset to remain missing")
	}
}

func TestDlibAssets(t *testing.T) {
	assets := DlibAssets()
	if len(assets) != 2 {
		t.Fatalf("expected 2 dlib assets, got %d", len(assets))
	}
	for _, a := range assets {
		if !a.Compressed || !strings.HasSuffix(a.URL, ".bz2") {
			t.Errorf("asset %s should be a bz2 download", a.Name)
		}
	}
}
