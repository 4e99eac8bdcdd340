package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrCodeEU/faceattend/pkg/assets"
	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/auth"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/metrics"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/server"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

// app holds the wired components for one command invocation.
type app struct {
	db        *storage.DB
	gallery   *storage.Gallery
	ledger    *storage.Ledger
	extractor recognition.Extractor
	service   *attendance.Service
	sessions  *auth.Manager
	metrics   *metrics.Metrics
	checks    []server.HealthCheck
	closers   []func() error
}

// openApp wires storage, the extractor, and sessions. Only the server uses
// the configured session backend; one-shot commands keep sessions in memory.
func openApp(ctx context.Context, serving bool) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := storage.Open(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	a.checks = append(a.checks, server.HealthCheck{Name: "db", Check: db.Ping})

	images, err := storage.NewImageStore(cfg.Storage.ImagesDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return nil, err
	}
	a.gallery = storage.NewGallery(db, images)
	a.ledger = storage.NewLedger(db)

	extractor, closeExtractor := newExtractor(ctx)
	a.extractor = extractor
	a.closers = append(a.closers, closeExtractor)

	if err := db.EnsureEmbeddingSpace(ctx, extractor.Name(), extractor.Dimension()); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	a.service = attendance.NewService(extractor, a.gallery, a.ledger,
		recognition.NewMatcher(cfg.Recognition.SimilarityThreshold), a.metrics)

	var store auth.SessionStore = auth.NewMemoryStore()
	if serving && cfg.Auth.SessionBackend == "redis" {
		rs := auth.NewRedisStore(cfg.Auth.RedisAddr)
		store = rs
		a.closers = append(a.closers, rs.Close)
		a.checks = append(a.checks, server.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			if !rs.Healthy(ctx) {
				return errors.New("unreachable")
			}
			return nil
		}})
	}

	verifier := auth.NewStaticVerifier(cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, cfg.Auth.AdminPasswordHash)
	a.sessions, err = auth.NewManager(verifier, store, auth.Options{
		SigningKey: cfg.Auth.SigningKey,
		Issuer:     cfg.Auth.Issuer,
		TTL:        cfg.Auth.SessionTTL,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// newExtractor builds the configured extractor. Missing models are fetched
// best-effort; if they are still absent the extractor reports
// ErrModelNotLoaded on use instead of failing startup.
func newExtractor(ctx context.Context) (recognition.Extractor, func() error) {
	rc := cfg.Recognition
	log := logging.Component("recognition")

	switch rc.Extractor {
	case config.ExtractorCascade:
		if rc.DownloadModels {
			asset := assets.CascadeAsset(rc.CascadeFile, rc.CascadeURL)
			assets.NewDownloader(os.Stderr).EnsureBestEffort(ctx, filepath.Dir(rc.CascadeFile), []assets.Asset{asset})
		}
		detector, err := recognition.NewHaarDetector(rc.CascadeFile)
		if err != nil {
			log.WithError(err).Warn("Haar cascade unavailable")
			c := recognition.NewCascadeExtractor(nil)
			return c, c.Close
		}
		c := recognition.NewCascadeExtractor(detector)
		return c, c.Close

	default:
		if rc.DownloadModels {
			assets.NewDownloader(os.Stderr).EnsureBestEffort(ctx, rc.ModelPath, assets.DlibAssets())
		}
		d := recognition.NewDlibExtractor()
		if err := d.LoadModels(rc.ModelPath); err != nil {
			log.WithError(err).Warn("dlib models unavailable")
		}
		return d, d.Close
	}
}

// login starts an admin session with the credentials given on the command line.
func (a *app) login(ctx context.Context) (*auth.Session, error) {
	user, pass := loginUser, loginPassword
	if user == "" {
		user = os.Getenv("FACEATTEND_ADMIN_USER")
	}
	if pass == "" {
		pass = os.Getenv("FACEATTEND_ADMIN_PASSWORD")
	}
	if user == "" || pass == "" {
		return nil, errors.New("admin credentials required (-user/-password or FACEATTEND_ADMIN_USER/FACEATTEND_ADMIN_PASSWORD)")
	}

	_, sess, err := a.sessions.Login(ctx, user, pass)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Close releases everything opened by openApp, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil
}
