package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/storage"
	"github.com/spf13/cobra"
)

var enrollCase string

var enrollCmd = &cobra.Command{
	Use:   "enroll <label> <image>",
	Short: "Store the face in an image as a reusable reference profile",
	Long: `Enroll extracts the face from an image and stores it under a label.
Enrolling the same label again adds another reference face to the profile.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnroll(cmd.Context(), args[0], args[1], cmd.OutOrStdout())
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollCase, "case-number", "", "Case number stored with the profile")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, label, imagePath string, out io.Writer) error {
	if !storage.ValidLabel(label) {
		return fmt.Errorf("%w: %q (use letters, digits, '.', '_' or '-')", storage.ErrInvalidLabel, label)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ex, err := openExtractor()
	if err != nil {
		return err
	}
	defer ex.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.ExtractTimeoutDuration())
	defer cancel()

	det, err := ex.DetectSingle(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to extract face from %s: %w", imagePath, err)
	}

	store, err := openStorage()
	if err != nil {
		return err
	}

	source := filepath.Base(imagePath)
	if store.ProfileExists(label) {
		if err := store.AddDescriptor(label, det.Descriptor, source); err != nil {
			return err
		}
		logging.Infof("Added reference face from %s to profile %s", source, label)
		fmt.Fprintf(out, "Added a reference face to '%s'.\n", label)
		return nil
	}

	var metadata map[string]string
	if enrollCase != "" {
		metadata = map[string]string{"case_number": enrollCase}
	}
	if err := store.CreateProfile(label, det.Descriptor, source, metadata); err != nil {
		return err
	}
	logging.Infof("Enrolled profile %s from %s", label, source)
	fmt.Fprintf(out, "Enrolled '%s'.\n", label)
	return nil
}
