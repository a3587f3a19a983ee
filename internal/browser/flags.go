package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

// Flag is one command-line switch. Value is either a bool (true means the
// bare switch) or a string.
type Flag struct {
	Name  string
	Value any
}

// FlagSet returns the ordered command-line switches for a launch, without
// the profile directory and executable. The set keeps Chrome quiet (no first
// run UI, no sync, no background work) and hides the automation banner:
// --enable-automation is never passed and the AutomationControlled blink
// feature is disabled.
func FlagSet(o Options) []Flag {
	o = o.withDefaults()
	flags := []Flag{
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"disable-background-networking", true},
		{"disable-background-timer-throttling", true},
		{"disable-backgrounding-occluded-windows", true},
		{"disable-renderer-backgrounding", true},
		{"disable-breakpad", true},
		{"disable-component-update", true},
		{"disable-default-apps", true},
		{"disable-extensions", true},
		{"disable-sync", true},
		{"metrics-recording-only", true},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-infobars", true},
		{"window-size", fmt.Sprintf("%d,%d", o.WindowWidth, o.WindowHeight)},
		{"window-position", "0,0"},
		{"autoplay-policy", "user-gesture-required"},
	}
	for _, raw := range o.ExtraFlags {
		if f, ok := parseFlag(raw); ok {
			flags = append(flags, f)
		}
	}
	return flags
}

// parseFlag turns "--name" or "--name=value" into a Flag.
func parseFlag(raw string) (Flag, bool) {
	raw = strings.TrimSpace(raw)
	name := strings.TrimLeft(raw, "-")
	if name == "" || name == raw {
		return Flag{}, false
	}
	if k, v, ok := strings.Cut(name, "="); ok {
		if k == "" {
			return Flag{}, false
		}
		return Flag{Name: k, Value: v}, true
	}
	return Flag{Name: name, Value: true}, true
}

// Flags converts the launch options into chromedp allocator options for
// profileDir. chromedp.DefaultExecAllocatorOptions is deliberately not used:
// it runs headless and passes --enable-automation.
func Flags(o Options, executable, profileDir string) []chromedp.ExecAllocatorOption {
	set := FlagSet(o)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(set)+2)
	if executable != "" {
		opts = append(opts, chromedp.ExecPath(executable))
	}
	opts = append(opts, chromedp.UserDataDir(profileDir))
	for _, f := range set {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}
