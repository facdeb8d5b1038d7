// Package profile is the read-only adapter over the platform's user
// directory. The chat core never writes profiles; they are owned by the
// auth/profile service.
package profile

import "context"

// Profile is a user's public identity.
type Profile struct {
	UID      string
	Name     string
	Email    string
	PhotoURL string
}

// Directory resolves uids to profiles. Lookup returns (nil, nil) for a
// missing profile; callers treat that as "omit", not as a failure.
type Directory interface {
	Lookup(ctx context.Context, uid string) (*Profile, error)
}

// Static is a fixed in-memory directory used by tests and the memory driver.
type Static map[string]Profile

// Lookup implements Directory.
func (s Static) Lookup(_ context.Context, uid string) (*Profile, error) {
	p, ok := s[uid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
