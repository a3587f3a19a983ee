// Package profile persists the named browser profiles browserfleet manages.
//
// A Store keeps the full profile list in one JSON file and rewrites it
// atomically on every mutation. A missing or unreadable file is treated as an
// empty list so a damaged file never prevents startup.
package profile

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Iron-Ham/browserfleet/internal/errors"
)

// MaxNameLength is the longest allowed profile name, in characters.
const MaxNameLength = 50

var idPattern = regexp.MustCompile(`^[0-9]+$`)

// Profile is a named, persisted definition of one browser instance.
type Profile struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Normalize returns p with surrounding whitespace removed from the name.
func (p Profile) Normalize() Profile {
	p.Name = strings.TrimSpace(p.Name)
	return p
}

// Validate checks the field rules that do not depend on other profiles.
// The returned error is an errors.ValidationErrors matching ErrInvalidConfig.
func Validate(p Profile) error {
	var problems errors.ValidationErrors

	if !idPattern.MatchString(p.ID) {
		problems = append(problems, errors.NewValidationError("must be a non-empty string of digits").
			WithField("id").WithValue(p.ID))
	}

	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		problems = append(problems, errors.NewValidationError("must not be empty").
			WithField("name").WithValue(p.Name))
	case utf8.RuneCountInString(name) > MaxNameLength:
		problems = append(problems, errors.NewValidationError("must be at most 50 characters").
			WithField("name").WithValue(name))
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}
