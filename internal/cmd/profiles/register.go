// Package profiles provides CLI commands for editing the profile list
// without a running manager.
package profiles

import "github.com/spf13/cobra"

var profilesCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"profile"},
	Short:   "List, add, rename and remove browser profiles",
}

// Register adds all profile commands to the given parent command.
func Register(parent *cobra.Command) {
	RegisterListCmd(profilesCmd)
	RegisterAddCmd(profilesCmd)
	RegisterRenameCmd(profilesCmd)
	RegisterRemoveCmd(profilesCmd)
	parent.AddCommand(profilesCmd)
}
