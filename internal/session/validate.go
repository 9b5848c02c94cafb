package session

import (
	"fmt"
	"regexp"
)

// MaxNameLen bounds session names; they become directory names under
// ~/.buddy/sessions.
const MaxNameLen = 64

var nameChars = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateName checks that name is usable as a session directory name:
// non-empty, at most MaxNameLen runes, lowercase letters, digits,
// hyphens and underscores only.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, MaxNameLen)
	}
	if !nameChars.MatchString(name) {
		return fmt.Errorf("invalid session name %q: only [a-z0-9_-] allowed", name)
	}
	return nil
}
