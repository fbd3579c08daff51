package port

import (
	"context"

	"balance_reconciler/internal/domain/entity"
)

// ShieldedWalletService is the facade consumed by the UI layer and the REST handlers.
type ShieldedWalletService interface {
	Connect(ctx context.Context, creds entity.Credentials) (*entity.WalletSession, error)
	Disconnect(ctx context.Context) error
	Restore(ctx context.Context, identity string) entity.RestoreResult
	RefreshBalances(ctx context.Context) error

	OnBalanceUpdate(raw entity.RawBalanceEvent) error
	OnScanProgress(kind entity.ScanKind, raw entity.RawScanEvent)

	// GetBalance resolves to a single amount, a bucket, a wallet, or the whole cache
	// depending on which arguments are non-empty.
	GetBalance(walletID string, bucket entity.BalanceBucket, tokenAddress string) entity.BalanceView
	State() entity.ConnectionState
	ScanStates() []entity.ScanState
	Diagnostics() entity.DiagnosticsDump
	Close()
}
