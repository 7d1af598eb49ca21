package main

import (
	"context"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/batch"
	"github.com/MrCodeEU/facesweep/pkg/progress"
	"github.com/MrCodeEU/facesweep/pkg/server"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web interface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	// Models are loaded by the server on first use.
	ex := newExtractor()
	defer ex.Close()

	srv := server.New(ex, server.Options{
		Addr:      cfg.Addr(),
		ModelPath: cfg.Recognition.ModelPath,
		Loader:    ex,
		Runner: batch.Options{
			Label:          cfg.Recognition.Label,
			Threshold:      cfg.Recognition.Threshold,
			ExtractTimeout: cfg.ExtractTimeoutDuration(),
			Reporter:       progress.Log{},
		},
		TileSize: cfg.Report.TileSizeMM,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
