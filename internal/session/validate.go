package session

import (
	"fmt"
	"regexp"
)

// Uids come from the auth provider; this keeps them safe as directory names
// and inside conversation keys (no underscore-free guarantee is needed for
// paths, but length and charset are).
var uidRegexp = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// ValidateUID checks that uid conforms to session naming rules.
func ValidateUID(uid string) error {
	if !uidRegexp.MatchString(uid) {
		return fmt.Errorf("invalid session uid %q: must match ^[a-zA-Z0-9-]{1,64}$", uid)
	}
	return nil
}
