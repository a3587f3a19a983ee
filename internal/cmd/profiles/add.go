package profiles

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/browserfleet/internal/errors"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

var addCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Add a profile",
	Long: `Add a profile. The id is a string of digits and names the profile's browser
directory; the name must be unique and at most 50 characters.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAdd,
}

var renameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a profile",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRename,
}

// RegisterAddCmd registers the add command with the given parent command.
func RegisterAddCmd(parent *cobra.Command) {
	parent.AddCommand(addCmd)
}

// RegisterRenameCmd registers the rename command with the given parent command.
func RegisterRenameCmd(parent *cobra.Command) {
	parent.AddCommand(renameCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	p := profile.Profile{ID: args[0], Name: strings.Join(args[1:], " ")}
	if _, exists := store.Get(p.ID); exists {
		return fmt.Errorf("profile %s already exists; use 'browserfleet profiles rename'", p.ID)
	}
	if err := store.Save(p); err != nil {
		return fmt.Errorf("failed to add profile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added profile %s (%s)\n", p.ID, p.Normalize().Name)
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	p := profile.Profile{ID: args[0], Name: strings.Join(args[1:], " ")}
	if _, exists := store.Get(p.ID); !exists {
		return fmt.Errorf("%w: %s", errors.ErrNotFound, p.ID)
	}
	if err := store.Save(p); err != nil {
		return fmt.Errorf("failed to rename profile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed profile %s to %s\n", p.ID, p.Normalize().Name)
	return nil
}
