package attendance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrCodeEU/faceattend/pkg/auth"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/metrics"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

var testNow = time.Date(2024, 5, 6, 8, 30, 0, 0, time.Local)

type testEnv struct {
	svc     *Service
	gallery *storage.Gallery
	ledger  *storage.Ledger
	metrics *metrics.Metrics
	sess    *auth.Session
}

func newTestEnv(t *testing.T, extractor recognition.Extractor) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "attendance.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.EnsureEmbeddingSpace(context.Background(), extractor.Name(), extractor.Dimension()); err != nil {
		t.Fatalf("EnsureEmbeddingSpace failed: %v", err)
	}

	images, err := storage.NewImageStore(filepath.Join(dir, "images"), false)
	if err != nil {
		t.Fatalf("failed to create image store: %v", err)
	}

	gallery := storage.NewGallery(db, images)
	ledger := storage.NewLedger(db)
	m := metrics.New()
	svc := NewService(extractor, gallery, ledger, recognition.NewMatcher(config.DefaultSimilarityThreshold), m).
		WithClock(func() time.Time { return testNow })

	return &testEnv{
		svc:     svc,
		gallery: gallery,
		ledger:  ledger,
		metrics: m,
		sess:    &auth.Session{ID: "test", Username: "admin", CreatedAt: testNow, ExpiresAt: testNow.Add(time.Hour)},
	}
}

func TestRegister_ThenGalleryHoldsOneEntry(t *testing.T) {
	for _, dim := range []int{recognition.DlibDimension, recognition.CascadeDimension} {
		t.Run(fmt.Sprint(dim), func(t *testing.T) {
			env := newTestEnv(t, &fakeExtractor{dim: dim})
			ctx := context.Background()

			user, err := env.svc.Register(ctx, env.sess, "alice", []byte("alice-face"))
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			candidates, err := env.gallery.AllEmbeddings(ctx)
			if err != nil {
				t.Fatalf("AllEmbeddings failed: %v", err)
			}
			if len(candidates) != 1 {
				t.Fatalf("expected exactly one gallery entry, got %d", len(candidates))
			}
			if candidates[0].Name != "alice" || candidates[0].UserID != user.ID {
				t.Errorf("unexpected entry %+v", candidates[0])
			}
			if len(candidates[0].Embedding) != dim {
				t.Errorf("embedding length %d, want %d", len(candidates[0].Embedding), dim)
			}
		})
	}
}

func TestRegister_NoFaceLeavesGalleryUnchanged(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, env.sess, "bob", []byte("noface"))
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected no-face error, got %v", err)
	}
	if CodeOf(err) != CodeNoFace {
		t.Errorf("code = %s, want %s", CodeOf(err), CodeNoFace)
	}
	if err.Error() != "No face detected" {
		t.Errorf("message = %q", err.Error())
	}

	n, _ := env.gallery.Count(ctx)
	if n != 0 {
		t.Errorf("gallery changed: %d users", n)
	}
	if got := testutil.ToFloat64(env.metrics.Registrations.WithLabelValues(metrics.OutcomeNoFace)); got != 1 {
		t.Errorf("no_face registrations = %v, want 1", got)
	}
}

func TestMarkAttendance_SelfMatch(t *testing.T) {
	for _, dim := range []int{recognition.DlibDimension, recognition.CascadeDimension} {
		t.Run(fmt.Sprint(dim), func(t *testing.T) {
			env := newTestEnv(t, &fakeExtractor{dim: dim})
			ctx := context.Background()

			alice, err := env.svc.Register(ctx, env.sess, "alice", []byte("alice-face"))
			if err != nil {
				t.Fatalf("Register alice failed: %v", err)
			}
			if _, err := env.svc.Register(ctx, env.sess, "bob", []byte("bob-face")); err != nil {
				t.Fatalf("Register bob failed: %v", err)
			}

			res, err := env.svc.MarkAttendance(ctx, env.sess, []byte("alice-face"))
			if err != nil {
				t.Fatalf("MarkAttendance failed: %v", err)
			}
			if !res.Recognized || res.UserID != alice.ID || res.Name != "alice" {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.Similarity < 0.8 {
				t.Errorf("self-similarity %f below threshold", res.Similarity)
			}
			if res.Similarity < 0.999 {
				t.Errorf("expected self-similarity close to 1, got %f", res.Similarity)
			}
			if res.Timestamp != testNow.Format(storage.TimestampLayout) {
				t.Errorf("timestamp = %s", res.Timestamp)
			}
			if res.Message() != "Attendance marked for alice" {
				t.Errorf("message = %q", res.Message())
			}

			records, _ := env.ledger.Records(ctx)
			if len(records) != 1 || records[0].UserID != alice.ID {
				t.Errorf("expected exactly one record for alice, got %+v", records)
			}
		})
	}
}

func TestMarkAttendance_NotRecognized(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, env.sess, "alice", []byte("alice-face")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	res, err := env.svc.MarkAttendance(ctx, env.sess, []byte("stranger"))
	if err != nil {
		t.Fatalf("not recognized must not be an error, got %v", err)
	}
	if res.Recognized {
		t.Fatalf("stranger was recognized: %+v", res)
	}
	if res.Message() != "Face not recognized" {
		t.Errorf("message = %q", res.Message())
	}

	n, _ := env.ledger.Count(ctx)
	if n != 0 {
		t.Errorf("ledger changed: %d records", n)
	}
}

func TestMarkAttendance_EmptyGallery(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})

	res, err := env.svc.MarkAttendance(context.Background(), env.sess, []byte("anyone"))
	if err != nil || res.Recognized {
		t.Errorf("expected negative result, got %+v, %v", res, err)
	}
}

func TestRecords_NAcrossMUsers(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()

	names := []string{"alice", "bob", "carol"}
	for _, n := range names {
		if _, err := env.svc.Register(ctx, env.sess, n, []byte(n+"-face")); err != nil {
			t.Fatalf("Register %s failed: %v", n, err)
		}
	}

	sequence := []string{"bob", "alice", "bob", "carol", "bob"}
	for _, n := range sequence {
		res, err := env.svc.MarkAttendance(ctx, env.sess, []byte(n+"-face"))
		if err != nil || !res.Recognized {
			t.Fatalf("MarkAttendance %s: %+v, %v", n, res, err)
		}
	}

	records, err := env.svc.Records(ctx, env.sess)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != len(sequence) {
		t.Fatalf("expected %d records, got %d", len(sequence), len(records))
	}
	for i, r := range records {
		if r.Name != sequence[i] {
			t.Errorf("record %d name = %s, want %s", i, r.Name, sequence[i])
		}
		if r.Timestamp != testNow.Format(storage.TimestampLayout) {
			t.Errorf("record %d timestamp = %s", i, r.Timestamp)
		}
	}
}

func TestRegister_DistinctIDs(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()

	a, err := env.svc.Register(ctx, env.sess, "alice", []byte("alice-face"))
	if err != nil {
		t.Fatalf("Register alice failed: %v", err)
	}
	b, err := env.svc.Register(ctx, env.sess, "bob", []byte("bob-face"))
	if err != nil {
		t.Fatalf("Register bob failed: %v", err)
	}

	if b.ID <= a.ID {
		t.Errorf("ids not increasing: %d then %d", a.ID, b.ID)
	}
	if a.ImagePath == b.ImagePath {
		t.Errorf("both users share image %s", a.ImagePath)
	}

	imgA, err := env.gallery.Image(ctx, a.ID)
	if err != nil || string(imgA) != "alice-face" {
		t.Errorf("alice's image = %q, %v", imgA, err)
	}
	imgB, err := env.gallery.Image(ctx, b.ID)
	if err != nil || string(imgB) != "bob-face" {
		t.Errorf("bob's image = %q, %v", imgB, err)
	}
}

func TestMissingInput(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()
	extractor := env.svc.extractor.(*fakeExtractor)

	tests := []struct {
		name  string
		call  func() error
		wantM string
	}{
		{
			name:  "register without name",
			call:  func() error { _, err := env.svc.Register(ctx, env.sess, "  ", []byte("x")); return err },
			wantM: "Please enter name and provide an image",
		},
		{
			name:  "register without image",
			call:  func() error { _, err := env.svc.Register(ctx, env.sess, "alice", nil); return err },
			wantM: "Please enter name and provide an image",
		},
		{
			name:  "mark without image",
			call:  func() error { _, err := env.svc.MarkAttendance(ctx, env.sess, []byte{}); return err },
			wantM: "Please provide an image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, ErrMissingInput) {
				t.Fatalf("expected missing input, got %v", err)
			}
			if err.Error() != tt.wantM {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantM)
			}
		})
	}

	if extractor.calls != 0 {
		t.Errorf("extractor ran %d times on missing input", extractor.calls)
	}
}

func TestDetectionFailures(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()

	for _, payload := range []string{"corrupt", "panic", "short"} {
		t.Run(payload, func(t *testing.T) {
			_, err := env.svc.Register(ctx, env.sess, "eve", []byte(payload))
			if !errors.Is(err, ErrDetectionFailed) {
				t.Fatalf("Register: expected detection failure, got %v", err)
			}

			_, err = env.svc.MarkAttendance(ctx, env.sess, []byte(payload))
			if !errors.Is(err, ErrDetectionFailed) {
				t.Fatalf("MarkAttendance: expected detection failure, got %v", err)
			}
			if len(err.Error()) <= len(Message(CodeDetectionFailed)) {
				t.Errorf("expected underlying message to be surfaced, got %q", err.Error())
			}
		})
	}

	n, _ := env.gallery.Count(ctx)
	if n != 0 {
		t.Errorf("failed registrations stored %d users", n)
	}
}

func TestUnauthorized(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()

	expired := &auth.Session{ID: "old", ExpiresAt: testNow.Add(-time.Minute)}

	for name, sess := range map[string]*auth.Session{"nil": nil, "expired": expired} {
		t.Run(name, func(t *testing.T) {
			if _, err := env.svc.Register(ctx, sess, "alice", []byte("alice-face")); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Register: expected unauthorized, got %v", err)
			}
			if _, err := env.svc.MarkAttendance(ctx, sess, []byte("alice-face")); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("MarkAttendance: expected unauthorized, got %v", err)
			}
			if _, err := env.svc.Records(ctx, sess); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Records: expected unauthorized, got %v", err)
			}
			if _, err := env.svc.Users(ctx, sess); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Users: expected unauthorized, got %v", err)
			}
			if _, err := env.svc.UserImage(ctx, sess, 1); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("UserImage: expected unauthorized, got %v", err)
			}
		})
	}

	n, _ := env.gallery.Count(ctx)
	if n != 0 {
		t.Errorf("unauthorized registration stored %d users", n)
	}
}

func TestStorageFailuresPropagate(t *testing.T) {
	storageErr := errors.New("no such table: attendance")
	sess := &auth.Session{ID: "s", ExpiresAt: time.Now().Add(time.Hour)}
	ctx := context.Background()

	svc := NewService(&fakeExtractor{dim: 128}, &failingGallery{err: storageErr}, &failingLedger{err: storageErr},
		recognition.NewMatcher(config.DefaultSimilarityThreshold), nil)

	if _, err := svc.Register(ctx, sess, "alice", []byte("alice-face")); !errors.Is(err, storageErr) {
		t.Errorf("Register: expected wrapped storage error, got %v", err)
	}
	if _, err := svc.MarkAttendance(ctx, sess, []byte("alice-face")); !errors.Is(err, storageErr) {
		t.Errorf("MarkAttendance: expected wrapped storage error, got %v", err)
	}
	if _, err := svc.Records(ctx, sess); !errors.Is(err, storageErr) {
		t.Errorf("Records: expected wrapped storage error, got %v", err)
	}
	if _, err := svc.UserImage(ctx, sess, 1); !errors.Is(err, storageErr) {
		t.Errorf("UserImage: expected wrapped storage error, got %v", err)
	}
	if CodeOf(storageErr) != "" {
		t.Error("storage errors must not carry an attendance code")
	}
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{dim: 128})
	ctx := context.Background()

	users, err := env.svc.Users(ctx, env.sess)
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if users == nil || len(users) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", users)
	}

	_, _ = env.svc.Register(ctx, env.sess, "alice", []byte("alice-face"))
	users, _ = env.svc.Users(ctx, env.sess)
	if len(users) != 1 || users[0].Name != "alice" {
		t.Fatalf("unexpected users %+v", users)
	}

	img, err := env.svc.UserImage(ctx, env.sess, users[0].ID)
	if err != nil {
		t.Fatalf("UserImage failed: %v", err)
	}
	if string(img) != "alice-face" {
		t.Errorf("UserImage = %q, want the registered bytes", img)
	}
	if _, err := env.svc.UserImage(ctx, env.sess, 42); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("UserImage(42): expected ErrUserNotFound, got %v", err)
	}
}

func TestCascadePipeline(t *testing.T) {
	extractor := recognition.NewCascadeExtractor(uniformDetector{})
	env := newTestEnv(t, extractor)
	ctx := context.Background()

	gradient := image.NewGray(image.Rect(0, 0, 100, 100))
	checker := image.NewGray(image.Rect(0, 0, 100, 100))
	blank := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			gradient.SetGray(x, y, color.Gray{Y: uint8(x * 255 / 99)})
			if (x/20+y/20)%2 == 0 {
				checker.SetGray(x, y, color.Gray{Y: 255})
			}
			blank.SetGray(x, y, color.Gray{Y: 128})
		}
	}

	user, err := env.svc.Register(ctx, env.sess, "alice", encodePNG(t, gradient))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	stored, _ := env.gallery.User(ctx, user.ID)
	if len(stored.Embedding) != recognition.CascadeDimension {
		t.Errorf("stored %d dimensions, want %d", len(stored.Embedding), recognition.CascadeDimension)
	}

	res, err := env.svc.MarkAttendance(ctx, env.sess, encodePNG(t, gradient))
	if err != nil || !res.Recognized {
		t.Fatalf("expected self match, got %+v, %v", res, err)
	}

	res, err = env.svc.MarkAttendance(ctx, env.sess, encodePNG(t, checker))
	if err != nil || res.Recognized {
		t.Errorf("expected checkerboard to stay unrecognized, got %+v, %v", res, err)
	}

	if _, err := env.svc.Register(ctx, env.sess, "nobody", encodePNG(t, blank)); !errors.Is(err, ErrNoFace) {
		t.Errorf("expected no face for a blank image, got %v", err)
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}
