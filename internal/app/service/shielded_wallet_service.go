package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
)

const recentTransitionLimit = 64

// shieldedWalletService wires the normalizer, cache, watchdog and orchestrator behind port.ShieldedWalletService.
type shieldedWalletService struct {
	cache        *BalanceCache
	watchdog     *ScanWatchdog
	orchestrator *ConnectionOrchestrator
	logger       port.Logger

	mu          sync.Mutex
	transitions []entity.BucketTransition
}

// NewShieldedWalletService creates the facade and subscribes it to cache transitions.
func NewShieldedWalletService(
	cache *BalanceCache,
	watchdog *ScanWatchdog,
	orchestrator *ConnectionOrchestrator,
	logger port.Logger,
) port.ShieldedWalletService {
	s := &shieldedWalletService{
		cache:        cache,
		watchdog:     watchdog,
		orchestrator: orchestrator,
		logger:       logger,
	}
	cache.OnTransition(s.recordTransition)
	return s
}

func (s *shieldedWalletService) recordTransition(t entity.BucketTransition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, t)
	if len(s.transitions) > recentTransitionLimit {
		s.transitions = s.transitions[len(s.transitions)-recentTransitionLimit:]
	}
}

func (s *shieldedWalletService) Connect(ctx context.Context, creds entity.Credentials) (*entity.WalletSession, error) {
	previous := s.orchestrator.Session()
	session, err := s.orchestrator.Connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	if previous != nil && previous.WalletID != session.WalletID {
		s.cache.RemoveWallet(previous.WalletID)
	}
	s.cache.SetActiveWallet(session.WalletID)
	return session, nil
}

// Disconnect ends the session, removes its record and drops the wallet's balances.
func (s *shieldedWalletService) Disconnect(ctx context.Context) error {
	ended, err := s.orchestrator.Disconnect(ctx)
	if ended != nil {
		s.cache.RemoveWallet(ended.WalletID)
	}
	return err
}

func (s *shieldedWalletService) Restore(ctx context.Context, identity string) entity.RestoreResult {
	previous := s.orchestrator.Session()
	res := s.orchestrator.Restore(ctx, identity)
	if res.Restored() {
		if previous != nil && previous.WalletID != res.Session.WalletID {
			s.cache.RemoveWallet(previous.WalletID)
		}
		s.cache.SetActiveWallet(res.Session.WalletID)
	}
	return res
}

func (s *shieldedWalletService) RefreshBalances(ctx context.Context) error {
	return s.orchestrator.RefreshBalances(ctx)
}

// OnBalanceUpdate is the engine balance callback. A discarded event is logged by the cache, not returned.
func (s *shieldedWalletService) OnBalanceUpdate(raw entity.RawBalanceEvent) error {
	s.cache.ApplyEvent(raw)
	return nil
}

func (s *shieldedWalletService) OnScanProgress(kind entity.ScanKind, raw entity.RawScanEvent) {
	s.watchdog.Observe(kind, raw)
}

func (s *shieldedWalletService) GetBalance(walletID string, bucket entity.BalanceBucket, tokenAddress string) entity.BalanceView {
	view := entity.BalanceView{WalletID: walletID, Bucket: bucket, TokenAddress: tokenAddress}

	switch {
	case tokenAddress != "":
		if bucket == "" {
			bucket = entity.BucketSpendable
			view.Bucket = bucket
		}
		if walletID == "" {
			view.WalletID = s.cache.ActiveWallet()
		}
		view.Amount = s.cache.AmountOf(view.WalletID, bucket, tokenAddress)
	case bucket != "":
		if walletID == "" {
			view.WalletID = s.cache.ActiveWallet()
		}
		view.Tokens = s.cache.Bucket(view.WalletID, bucket)
		if view.Tokens == nil {
			view.Tokens = entity.TokenMap{}
		}
	case walletID != "":
		view.Wallet = s.cache.Read(walletID, "")[walletID]
		if view.Wallet == nil {
			view.Wallet = entity.WalletBuckets{}
		}
	default:
		view.All = s.cache.Read("", "")
	}
	return view
}

func (s *shieldedWalletService) State() entity.ConnectionState {
	return s.orchestrator.State(context.Background())
}

func (s *shieldedWalletService) ScanStates() []entity.ScanState {
	return s.watchdog.States()
}

func (s *shieldedWalletService) Diagnostics() entity.DiagnosticsDump {
	s.mu.Lock()
	transitions := append([]entity.BucketTransition(nil), s.transitions...)
	s.mu.Unlock()
	sort.SliceStable(transitions, func(i, j int) bool { return transitions[i].DetectedAt.Before(transitions[j].DetectedAt) })

	return entity.DiagnosticsDump{
		GeneratedAt: time.Now(),
		Cache:       s.cache.Diagnostics(),
		Connection:  s.orchestrator.Diagnostics(context.Background()),
		Scans:       s.watchdog.States(),
		Transitions: transitions,
	}
}

// Close stops the watchdog timers.
func (s *shieldedWalletService) Close() {
	s.watchdog.Stop()
}
