package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	c := config.DefaultConfig()
	c.Recognition.Extractor = config.ExtractorCascade
	c.Recognition.ModelPath = filepath.Join(dir, "models")
	c.Recognition.CascadeFile = filepath.Join(dir, "models", "missing.xml")
	c.Recognition.DownloadModels = false
	c.Storage.Database = filepath.Join(dir, "attendance.db")
	c.Storage.ImagesDir = filepath.Join(dir, "images")
	c.Logging.File = ""
	c.Metrics.Enabled = false
	return c
}

func useConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func useLogin(t *testing.T, user, pass string) {
	t.Helper()
	prevUser, prevPass := loginUser, loginPassword
	loginUser, loginPassword = user, pass
	t.Setenv("FACEATTEND_ADMIN_USER", "")
	t.Setenv("FACEATTEND_ADMIN_PASSWORD", "")
	t.Cleanup(func() { loginUser, loginPassword = prevUser, prevPass })
}

func TestOpenAppWithoutCascade(t *testing.T) {
	useConfig(t, testConfig(t))
	useLogin(t, "admin", "admin123")
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		t.Fatalf("openApp() error = %v", err)
	}
	defer a.Close()

	if a.extractor.Name() != "cascade" {
		t.Errorf("extractor = %s, want cascade", a.extractor.Name())
	}
	if len(a.checks) != 1 || a.checks[0].Name != "db" {
		t.Errorf("checks = %+v, want only db", a.checks)
	}
	if a.metrics != nil {
		t.Error("metrics should be nil when disabled")
	}

	sess, err := a.login(ctx)
	if err != nil {
		t.Fatalf("login() error = %v", err)
	}

	records, err := a.service.Records(ctx, sess)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Records() = %d rows, want 0", len(records))
	}

	// Without a cascade the extractor reports a detection failure.
	_, err = a.service.Register(ctx, sess, "alice", pngBytes(t))
	if !errors.Is(err, attendance.ErrDetectionFailed) {
		t.Errorf("Register() error = %v, want detection failure", err)
	}
}

func TestOpenAppRejectsOtherEmbeddingSpace(t *testing.T) {
	c := testConfig(t)
	useConfig(t, c)

	a, err := openApp(context.Background(), false)
	if err != nil {
		t.Fatalf("openApp() error = %v", err)
	}
	a.Close()

	c.Recognition.Extractor = config.ExtractorDlib
	_, err = openApp(context.Background(), false)
	if !errors.Is(err, storage.ErrEmbeddingSpaceMismatch) {
		t.Errorf("openApp() error = %v, want ErrEmbeddingSpaceMismatch", err)
	}
}

func TestLoginCredentials(t *testing.T) {
	useConfig(t, testConfig(t))
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		t.Fatalf("openApp() error = %v", err)
	}
	defer a.Close()

	tests := []struct {
		name    string
		user    string
		pass    string
		envUser string
		envPass string
		wantErr bool
	}{
		{name: "flags", user: "admin", pass: "admin123"},
		{name: "environment", envUser: "admin", envPass: "admin123"},
		{name: "missing", wantErr: true},
		{name: "wrong password", user: "admin", pass: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useLogin(t, tt.user, tt.pass)
			t.Setenv("FACEATTEND_ADMIN_USER", tt.envUser)
			t.Setenv("FACEATTEND_ADMIN_PASSWORD", tt.envPass)

			sess, err := a.login(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("login() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && sess.Username != "admin" {
				t.Errorf("Username = %s, want admin", sess.Username)
			}
		})
	}
}

func TestCaptureFrameFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	if err := os.WriteFile(path, pngBytes(t), 0600); err != nil {
		t.Fatal(err)
	}

	frame, err := captureFrame(context.Background(), path)
	if err != nil {
		t.Fatalf("captureFrame() error = %v", err)
	}
	if frame.Format != "png" {
		t.Errorf("Format = %s, want png", frame.Format)
	}
	if _, err := recognition.DecodeGray(frame.Data); err != nil {
		t.Errorf("frame does not decode: %v", err)
	}
}

func TestCommandsDocumented(t *testing.T) {
	if len(commandOrder) != len(commands) {
		t.Fatalf("commandOrder has %d entries, commands has %d", len(commandOrder), len(commands))
	}
	for _, name := range commandOrder {
		cmd, ok := commands[name]
		if !ok {
			t.Errorf("command %s missing", name)
			continue
		}
		if cmd.Usage == "" || cmd.Description == "" || cmd.Run == nil {
			t.Errorf("command %s incomplete", name)
		}
	}
}

func TestUsageErrors(t *testing.T) {
	useConfig(t, testConfig(t))

	tests := []struct {
		name string
		run  func([]string) error
		args []string
	}{
		{"register without image", cmdRegister, []string{"alice"}},
		{"mark without image", cmdMark, nil},
		{"hash-password without input", cmdHashPassword, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(tt.args); err == nil {
				t.Error("expected usage error")
			}
		})
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 5)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
