package session

import "time"

// Identity is the authenticated actor as the backend reports it.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
}

// Session is the authority's internal state record. The PIN gate can only
// be passed once the credential gate is; the gating logic enforces that
// ordering, the fields themselves are independent.
type Session struct {
	CredentialAuthenticated bool
	PinAuthenticated        bool
	User                    *Identity
	PinAttempts             int
	LockedUntil             *time.Time
	Loading                 bool
}

// Snapshot is the read-only projection handed to subscribers and the
// gateway. LockoutRemaining is derived for display; zero when not locked.
type Snapshot struct {
	CredentialAuthenticated bool          `json:"credential_authenticated"`
	PinAuthenticated        bool          `json:"pin_authenticated"`
	User                    *Identity     `json:"user,omitempty"`
	PinAttempts             int           `json:"pin_attempts"`
	LockedUntil             *time.Time    `json:"locked_until,omitempty"`
	LockoutRemaining        time.Duration `json:"lockout_remaining_ns,omitempty"`
	Loading                 bool          `json:"loading"`
}
