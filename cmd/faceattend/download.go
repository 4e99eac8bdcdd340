package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/MrCodeEU/faceattend/pkg/assets"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

func cmdDownloadModels(args []string) error {
	modelDir := cfg.Recognition.ModelPath
	cascadeFile := cfg.Recognition.CascadeFile
	if len(args) > 0 {
		modelDir = args[0]
		cascadeFile = filepath.Join(modelDir, filepath.Base(cascadeFile))
	}

	logging.Infof("Downloading models to: %s", modelDir)

	ctx := context.Background()
	d := assets.NewDownloader(os.Stderr)
	if err := d.Ensure(ctx, modelDir, assets.DlibAssets()); err != nil {
		return err
	}
	cascade := assets.CascadeAsset(cascadeFile, cfg.Recognition.CascadeURL)
	if err := d.Ensure(ctx, filepath.Dir(cascadeFile), []assets.Asset{cascade}); err != nil {
		return err
	}

	logging.Info("All models downloaded successfully!")
	return nil
}
