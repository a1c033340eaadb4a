// Package profile names the per-user state directories. Each profile has
// its own daemon, socket, credential and journal.
package profile

import (
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/homecare/internal/config"
)

const (
	DefaultName = "main"

	// NameEnv selects the profile when no flag is given.
	NameEnv = "HOMECARE_PROFILE"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory component.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// Resolve picks the active profile: the --profile flag, then
// $HOMECARE_PROFILE, then default_profile from config.toml, then "main".
// The result is validated.
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		name = os.Getenv(NameEnv)
	}
	if name == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			name = cfg.DefaultProfile
		}
	}
	if name == "" {
		name = DefaultName
	}
	return name, ValidateName(name)
}
