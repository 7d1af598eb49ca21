package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/recognition/dlib"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// modelBaseURL hosts the bzip2 compressed dlib models.
var modelBaseURL = "http://dlib.net/files/"

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the dlib face models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Recognition.ModelPath
		if len(args) > 0 {
			modelDir = args[0]
		}
		return downloadModels(cmd.Context(), modelDir, true)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func downloadModels(ctx context.Context, modelDir string, showProgress bool) error {
	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, name := range dlib.ModelFiles {
		targetPath := filepath.Join(modelDir, name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", name)
			continue
		}

		logging.Infof("Downloading %s...", name)
		if err := downloadAndExtract(ctx, modelBaseURL+name+".bz2", targetPath, showProgress); err != nil {
			return fmt.Errorf("failed to download %s: %w", name, err)
		}
		logging.Infof("Successfully downloaded %s", name)
	}

	logging.Info("All models downloaded successfully!")
	return nil
}

func downloadAndExtract(ctx context.Context, url, targetPath string, showProgress bool) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
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
	if showProgress {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(targetPath))
		body = io.TeeReader(resp.Body, bar)
	}

	// Write to a temporary file so an interrupted download is not mistaken
	// for a complete model.
	tmpPath := targetPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, bzip2.NewReader(body)); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, targetPath)
}
