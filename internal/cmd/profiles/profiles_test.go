package profiles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/browserfleet/internal/config"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

func setup(t *testing.T) {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	viper.Set("paths.data_dir", "/data")
	fs = afero.NewMemMapFs()
	listOutput = "table"
	t.Cleanup(func() {
		viper.Reset()
		fs = afero.NewOsFs()
		listOutput = "table"
	})
}

// run invokes a command's RunE with output captured.
func run(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	err := c.RunE(cmd, args)
	return buf.String(), err
}

func TestAddRenameList(t *testing.T) {
	setup(t)

	out, err := run(t, addCmd, "1", "Personal", "Mail")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Added profile 1 (Personal Mail)") {
		t.Errorf("add output = %q", out)
	}

	if _, err := run(t, addCmd, "1", "Other"); err == nil {
		t.Error("adding an existing id should fail")
	}
	if _, err := run(t, addCmd, "2", "Personal Mail"); err == nil {
		t.Error("adding a duplicate name should fail")
	}
	if _, err := run(t, addCmd, "x", "Bad id"); err == nil {
		t.Error("adding a non-numeric id should fail")
	}

	if _, err := run(t, renameCmd, "1", "Work"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := run(t, renameCmd, "9", "Nope"); err == nil {
		t.Error("renaming an unknown id should fail")
	}

	out, err = run(t, listCmd)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "ID") || !strings.Contains(out, "Work") || !strings.Contains(out, "stopped") {
		t.Errorf("table output = %q", out)
	}
}

func TestList_Formats(t *testing.T) {
	setup(t)
	if _, err := run(t, addCmd, "1", "Work"); err != nil {
		t.Fatal(err)
	}
	want := []profile.Profile{{ID: "1", Name: "Work"}}

	listOutput = "json"
	out, err := run(t, listCmd)
	if err != nil {
		t.Fatal(err)
	}
	var fromJSON []profile.Profile
	if err := json.Unmarshal([]byte(out), &fromJSON); err != nil {
		t.Fatalf("json output %q: %v", out, err)
	}
	if len(fromJSON) != 1 || fromJSON[0] != want[0] {
		t.Errorf("json = %v, want %v", fromJSON, want)
	}

	listOutput = "yaml"
	out, err = run(t, listCmd)
	if err != nil {
		t.Fatal(err)
	}
	var fromYAML []profile.Profile
	if err := yaml.Unmarshal([]byte(out), &fromYAML); err != nil {
		t.Fatalf("yaml output %q: %v", out, err)
	}
	if len(fromYAML) != 1 || fromYAML[0] != want[0] {
		t.Errorf("yaml = %v, want %v", fromYAML, want)
	}

	listOutput = "xml"
	if _, err := run(t, listCmd); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestList_Empty(t *testing.T) {
	setup(t)
	out, err := run(t, listCmd)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No profiles.") {
		t.Errorf("output = %q", out)
	}
}

func TestRemove(t *testing.T) {
	setup(t)
	if _, err := run(t, addCmd, "1", "Work"); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/data/instances/1/Preferences", []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, removeCmd, "1"); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if exists, _ := afero.DirExists(fs, "/data/instances/1"); exists {
		t.Error("profile directory should be removed")
	}
	if _, err := run(t, removeCmd, "1"); err == nil {
		t.Error("removing an unknown id should fail")
	}
}

func TestRemove_RefusedWhileBrowserHoldsLock(t *testing.T) {
	setup(t)
	if _, err := run(t, addCmd, "1", "Work"); err != nil {
		t.Fatal(err)
	}
	// The test process itself stands in for a live browser.
	lock := fmt.Sprintf("testhost-%d", os.Getpid())
	if err := afero.WriteFile(fs, "/data/instances/1/SingletonLock", []byte(lock), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, listCmd)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, fmt.Sprintf("running (pid %d)", os.Getpid())) {
		t.Errorf("table output = %q", out)
	}

	if _, err := run(t, removeCmd, "1"); err == nil {
		t.Fatal("rm should be refused while the directory is locked")
	}
	if exists, _ := afero.Exists(fs, "/data/instances/1/SingletonLock"); !exists {
		t.Error("refused removal must leave the directory alone")
	}
}
