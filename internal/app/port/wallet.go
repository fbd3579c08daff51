package port

import (
	"context"

	"balance_reconciler/internal/domain/entity"
)

// WalletEngine is the subset of the external wallet/proof engine the reconciler drives.
// Everything cryptographic stays behind this boundary.
type WalletEngine interface {
	IsStarted(ctx context.Context) bool
	Start(ctx context.Context) error

	// SetValidationBypass toggles the engine's external validation for one network.
	SetValidationBypass(ctx context.Context, network string, bypass bool) error
	RegisterProvider(ctx context.Context, network string, cfg entity.ProviderConfig) error
	QueryProvider(ctx context.Context, network string) (entity.ProviderStatus, error)

	// LoadWalletByID forwards args positionally. Engine versions disagree on
	// whether the key or the wallet id comes first.
	LoadWalletByID(ctx context.Context, args ...string) (string, error)
	CreateWallet(ctx context.Context, secretMaterial, mnemonic string) (string, error)
	DeriveAddress(ctx context.Context, walletID string) (string, error)
	RefreshBalances(ctx context.Context, walletIDs []string) error
}

// SessionStore persists the single session record under a key.
// Load returns (nil, nil) when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context, key string) (*entity.SessionRecord, error)
	Save(ctx context.Context, key string, record entity.SessionRecord) error
	Delete(ctx context.Context, key string) error
}
