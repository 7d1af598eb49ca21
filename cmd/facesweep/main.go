// Command facesweep scans photo galleries for a reference face and reports
// the images where it appears.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrCodeEU/facesweep/pkg/config"
	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	"github.com/MrCodeEU/facesweep/pkg/recognition/dlib"
	"github.com/MrCodeEU/facesweep/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfg        *config.Config
	configFile string
	debug      bool
)

// modelExtractor is a face extractor whose models are loaded explicitly.
type modelExtractor interface {
	recognition.Extractor
	LoadModels(modelPath string) error
	IsLoaded() bool
	Close() error
}

// newExtractor is replaced in tests.
var newExtractor = func() modelExtractor {
	return dlib.NewExtractor()
}

var rootCmd = &cobra.Command{
	Use:   "facesweep",
	Short: "Find a reference face in a gallery of photos",
	Long: `FaceSweep compares every face in a gallery of photos against a reference
face and reports the images where it appears, as text, HTML and a PDF of the
flagged images.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initConfig(cmd *cobra.Command, args []string) error {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	cfg.ExpandPaths()

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Init(logging.Options{Level: level, File: cfg.Logging.File, Format: cfg.Logging.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Debugf("FaceSweep v%s starting", version)
	logging.Debugf("Config loaded from %q, data dir: %s", cfg.Source, cfg.Storage.DataDir)
	return nil
}

// openExtractor returns an extractor with its models loaded.
func openExtractor() (modelExtractor, error) {
	ex := newExtractor()
	if err := ex.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("%w (run 'facesweep download-models' first)", err)
	}
	return ex, nil
}

func openStorage() (*storage.FileStorage, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		logging.WithError(err).Debug("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
