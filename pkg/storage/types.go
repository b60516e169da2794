package storage

import "time"

// NutRecord is one issued nut and its conversation lineage. Key material is
// kept in wire (unpadded base64url) form and compared as opaque strings.
type NutRecord struct {
	// Nut is the wire form of the nonce (primary key).
	Nut string `json:"nut"`

	// URL is the full sqrl:// URL this nut was embedded in, if any.
	URL string `json:"url,omitempty"`

	// OriginNut points at the earliest ancestor of this conversation, the
	// nut embedded in the original QR code. Empty when this record is the
	// origin itself. Intermediate nuts all point directly at the origin.
	OriginNut string `json:"origin_nut,omitempty"`

	// Used is set once the nut has been presented and consumed; a consumed
	// nut is still readable (the poll port reads origins) but will never
	// satisfy another protocol request.
	Used bool `json:"used"`

	// LoggedIn is flipped on the origin record by a successful ident.
	LoggedIn bool `json:"logged_in"`

	// IdentityKey binds the conversation to a user identity after a
	// successful ident.
	IdentityKey string `json:"identity_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Origin returns the nut string of this conversation's origin record.
func (n *NutRecord) Origin() string {
	if n.OriginNut != "" {
		return n.OriginNut
	}
	return n.Nut
}

// Identity is a durable identity record keyed by the user's per-site
// primary identity public key.
type Identity struct {
	// IdentityKey is the current primary identity public key (wire form).
	IdentityKey string `json:"identity_key"`

	// PreviousKeys is the ordered, deduplicated history of retired primary
	// keys, most recent first. Used to detect key rotation.
	PreviousKeys []string `json:"previous_keys,omitempty"`

	// SessionUnlockKey and VerifyUnlockKey are the opaque unlock values the
	// client deposited; the server retains and returns them but never uses
	// them cryptographically.
	SessionUnlockKey string `json:"session_unlock_key,omitempty"`
	VerifyUnlockKey  string `json:"verify_unlock_key,omitempty"`

	// Disabled gates authentication; set by the disable command, cleared by
	// enable. Remove requires Disabled.
	Disabled bool `json:"disabled"`

	// SQRLOnly and HardLock mirror the client's most recent advice flags.
	SQRLOnly bool `json:"sqrl_only"`
	HardLock bool `json:"hard_lock"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchesPrevious reports whether key appears in the retired-key history.
func (i *Identity) MatchesPrevious(key string) bool {
	for _, k := range i.PreviousKeys {
		if k == key {
			return true
		}
	}
	return false
}
