package profiles

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove a profile and its browser directory",
	Long: `Remove a profile and delete its browser directory. Removal is refused while
a browser is still using the directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

// RegisterRemoveCmd registers the rm command with the given parent command.
func RegisterRemoveCmd(parent *cobra.Command) {
	parent.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed profile %s\n", args[0])
	return nil
}
