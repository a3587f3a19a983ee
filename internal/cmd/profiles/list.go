package profiles

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/browserfleet/internal/browser"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	Long: `List every saved profile. The table format also shows whether a browser
currently holds the profile's directory.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var listOutput string

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format: table, json or yaml")
}

// RegisterListCmd registers the list command with the given parent command.
func RegisterListCmd(parent *cobra.Command) {
	parent.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	profiles := store.List()
	out := cmd.OutOrStdout()

	switch listOutput {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(profiles)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(profiles)
	case "table":
		return writeTable(out, store, profiles)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", listOutput)
	}
}

func writeTable(out io.Writer, store *profile.Store, profiles []profile.Profile) error {
	if len(profiles) == 0 {
		_, err := fmt.Fprintln(out, "No profiles.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE")
	for _, p := range profiles {
		state := "stopped"
		if pid, alive := browser.InUse(fs, store.Dir(p.ID)); alive {
			state = fmt.Sprintf("running (pid %d)", pid)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, state)
	}
	return w.Flush()
}
