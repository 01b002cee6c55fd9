// Package validate holds the wire-level identifier rules.
package validate

import (
	"fmt"
	"regexp"
)

// Identifiers are lowercase alphanumerics plus hyphen and underscore, 1-64
// chars, starting with an alphanumeric.
var idRx = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func OwnerID(v string) error {
	if v == "" {
		return fmt.Errorf("ownerId is required")
	}
	if !idRx.MatchString(v) {
		return fmt.Errorf("invalid ownerId: lowercase letters, digits, hyphen, underscore, max 64 chars")
	}
	return nil
}

func StreamID(v string) error {
	if v == "" {
		return fmt.Errorf("streamId is required")
	}
	if !idRx.MatchString(v) {
		return fmt.Errorf("invalid streamId: lowercase letters, digits, hyphen, underscore, max 64 chars")
	}
	return nil
}
