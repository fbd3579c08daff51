package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotStarted is returned synchronously by wallet operations attempted before bootstrap.
	ErrEngineNotStarted = errors.New("wallet engine not started")
	// ErrNoWalletSource means neither a wallet id nor a mnemonic was available.
	ErrNoWalletSource = errors.New("no wallet id or mnemonic to resolve a wallet from")
	// ErrAddressUnavailable means a handle resolved but no address could be derived from it.
	ErrAddressUnavailable = errors.New("wallet handle resolved but no address is derivable")
	// ErrIdentityRequired is returned when connect is called without an owner identity.
	ErrIdentityRequired = errors.New("owner identity is required")
	// ErrNoActiveSession is returned by operations that need a connected wallet.
	ErrNoActiveSession = errors.New("no active wallet session")
	// ErrSecretMaterialRequired means no encryption key was supplied or stored for the wallet.
	ErrSecretMaterialRequired = errors.New("secret material is required")
	// ErrConnectSuperseded means Disconnect ran while the connect was in flight; no session was installed.
	ErrConnectSuperseded = errors.New("connect superseded by a disconnect")
	// ErrConnectContended means every shared connect this caller joined was for other credentials.
	ErrConnectContended = errors.New("connect kept joining runs for other credentials")
)

// WalletResolutionError aggregates the failures of both load argument orders.
type WalletResolutionError struct {
	WalletID    string
	FirstOrder  error
	SecondOrder error
}

func (e *WalletResolutionError) Error() string {
	return fmt.Sprintf("failed to load wallet %s: key-first order: %v; id-first order: %v",
		e.WalletID, e.FirstOrder, e.SecondOrder)
}

// Unwrap exposes both underlying failures to errors.Is / errors.As.
func (e *WalletResolutionError) Unwrap() []error {
	return []error{e.FirstOrder, e.SecondOrder}
}

// DroppedRecord describes a token record the normalizer could not key.
type DroppedRecord struct {
	WalletID string        `json:"walletId"`
	Bucket   BalanceBucket `json:"bucket"`
	Reason   string        `json:"reason"`
}
