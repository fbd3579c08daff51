package entity

import (
	"strings"
	"time"
)

// SessionState is the lifecycle state of a wallet session.
type SessionState string

const (
	SessionActive       SessionState = "active"
	SessionDisconnected SessionState = "disconnected"
)

// WalletSession exists from a successful attach/create/load until disconnect.
type WalletSession struct {
	WalletID       string       `json:"walletId"`
	DerivedAddress string       `json:"derivedAddress"`
	SecretMaterial string       `json:"-"`
	Owner          string       `json:"owner"`
	State          SessionState `json:"state"`
	ConnectedAt    time.Time    `json:"connectedAt"`
}

// SessionRecord is the minimal persisted form of a session.
type SessionRecord struct {
	WalletID       string    `json:"walletId"`
	DerivedAddress string    `json:"derivedAddress"`
	SecretMaterial string    `json:"secretMaterial"`
	OwnerIdentity  string    `json:"ownerIdentity"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// OwnedBy compares owners case-insensitively; identities are EOA addresses.
func (r *SessionRecord) OwnedBy(identity string) bool {
	if r == nil || identity == "" {
		return false
	}
	return NormalizeIdentity(r.OwnerIdentity) == NormalizeIdentity(identity)
}

// Usable reports whether the record carries enough to reload a wallet.
func (r *SessionRecord) Usable() bool {
	return r != nil && r.WalletID != "" && r.SecretMaterial != "" && r.OwnerIdentity != ""
}

// NormalizeIdentity lower-cases and trims an owner identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Credentials are supplied by the caller of Connect.
type Credentials struct {
	// Identity is the owner (usually the EOA address) the session is bound to.
	Identity string `json:"identity"`
	// SecretMaterial is the opaque encryption key handed to the engine.
	SecretMaterial string `json:"secretMaterial"`
	WalletID       string `json:"walletId,omitempty"`
	Mnemonic       string `json:"mnemonic,omitempty"`
}

// ConnectionState summarises the current connection for UI polling.
type ConnectionState struct {
	Connected      bool   `json:"connected"`
	Owner          string `json:"owner,omitempty"`
	WalletID       string `json:"walletId,omitempty"`
	DerivedAddress string `json:"derivedAddress,omitempty"`
	// FromStore is true when the state was read from the persisted record rather than a live session.
	FromStore bool `json:"fromStore,omitempty"`
}

// RestoreOutcome discriminates the possible results of a restore.
type RestoreOutcome string

const (
	RestoreRestored      RestoreOutcome = "restored"
	RestoreNothingStored RestoreOutcome = "nothing_stored"
	RestoreOwnerMismatch RestoreOutcome = "owner_mismatch"
	RestoreInvalidRecord RestoreOutcome = "invalid_record"
	RestoreLoadFailed    RestoreOutcome = "load_failed"
)

// RestoreResult is returned by Restore instead of an error for every expected failure mode.
type RestoreResult struct {
	Outcome RestoreOutcome `json:"outcome"`
	Session *WalletSession `json:"session,omitempty"`
	Err     error          `json:"-"`
}

// Restored reports whether a session was established.
func (r RestoreResult) Restored() bool {
	return r.Outcome == RestoreRestored && r.Session != nil
}
