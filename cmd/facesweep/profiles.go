package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage enrolled reference profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfilesList(cmd.OutOrStdout())
	},
}

var profilesRemoveCmd = &cobra.Command{
	Use:   "remove <label>",
	Short: "Remove an enrolled profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfilesRemove(args[0], cmd.OutOrStdout())
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesRemoveCmd)
	rootCmd.AddCommand(profilesCmd)
}

func runProfilesList(out io.Writer) error {
	logging.Debugf("Listing profiles in %s", cfg.ProfilesDir())

	store, err := openStorage()
	if err != nil {
		return err
	}
	labels, err := store.ListProfiles()
	if err != nil {
		return err
	}

	if len(labels) == 0 {
		fmt.Fprintln(out, "No profiles enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tFACES\tUPDATED")
	fmt.Fprintln(w, "-----\t-----\t-------")
	for _, label := range labels {
		p, err := store.LoadProfile(label)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t%v\n", label, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", p.Label, len(p.Descriptors), p.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runProfilesRemove(label string, out io.Writer) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	if err := store.DeleteProfile(label); err != nil {
		return fmt.Errorf("failed to remove profile %s: %w", label, err)
	}
	fmt.Fprintf(out, "Profile '%s' has been removed.\n", label)
	return nil
}
