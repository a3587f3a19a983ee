package profiles

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/browserfleet/internal/browser"
	"github.com/Iron-Ham/browserfleet/internal/config"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

// fs is where profiles live; tests swap it for an in-memory filesystem.
var fs = afero.NewOsFs()

// lockChecker reports a profile as running while a live browser holds the
// lock in its directory. The CLI has no registry of its own, so this is how
// it sees browsers started by a separate serve process.
type lockChecker struct {
	store *profile.Store
}

func (c lockChecker) Has(id string) bool {
	_, alive := browser.InUse(fs, c.store.Dir(id))
	return alive
}

func openStore() (*profile.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := profile.Open(fs, cfg.Paths.ProfilesPath(), cfg.Paths.InstancesPath())
	if err != nil {
		return nil, err
	}
	store.SetRunningChecker(lockChecker{store: store})
	return store, nil
}
