package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/metrics"
)

const (
	connectFlightKey = "connect"
	// maxConnectRounds bounds how often a caller rejoins after sharing a flight run for other credentials.
	maxConnectRounds = 3
)

// OrchestratorConfig bounds the bootstrap retries and names the networks to register.
type OrchestratorConfig struct {
	Networks            []entity.NetworkDefinition
	ProviderMaxAttempts int
	ProviderRetryDelay  time.Duration
	ProbeTimeout        time.Duration
	EngineStartAttempts int
	EngineStartDelay    time.Duration
	SessionKey          string
}

func (c *OrchestratorConfig) normalize() {
	if c.ProviderMaxAttempts <= 0 {
		c.ProviderMaxAttempts = 3
	}
	if c.EngineStartAttempts <= 0 {
		c.EngineStartAttempts = 1
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.SessionKey == "" {
		c.SessionKey = "shielded_wallet_session"
	}
}

// ConnectionOrchestrator owns engine bootstrap and the wallet session.
// Concurrent Connect calls share one in-flight execution.
type ConnectionOrchestrator struct {
	engine port.WalletEngine
	store  port.SessionStore
	probe  port.ChainProbe
	cfg    OrchestratorConfig
	logger port.Logger
	sleep  func(time.Duration)
	now    func() time.Time

	flight      singleflight.Group
	engineReady atomic.Bool

	mu              sync.Mutex
	session         *entity.WalletSession
	providers       map[string]entity.ProviderRegistration
	bypassed        map[string]struct{}
	disconnects     uint64
	bootstrapRuns   int64
	connectAttempts int64
	lastConnectErr  string
}

// NewConnectionOrchestrator creates an orchestrator. probe may be nil to skip RPC reachability checks.
func NewConnectionOrchestrator(
	engine port.WalletEngine,
	store port.SessionStore,
	probe port.ChainProbe,
	cfg OrchestratorConfig,
	logger port.Logger,
) *ConnectionOrchestrator {
	cfg.normalize()
	return &ConnectionOrchestrator{
		engine:    engine,
		store:     store,
		probe:     probe,
		cfg:       cfg,
		logger:    logger,
		sleep:     time.Sleep,
		now:       time.Now,
		providers: make(map[string]entity.ProviderRegistration),
		bypassed:  make(map[string]struct{}),
	}
}

// Connect bootstraps the engine if needed and attaches, loads or creates a wallet for creds.Identity.
// Callers arriving while a connect is in flight wait for it. When that run was for other credentials
// the caller starts its own run once the flight has finished.
// The in-flight execution is detached from the caller's cancellation.
func (o *ConnectionOrchestrator) Connect(ctx context.Context, creds entity.Credentials) (*entity.WalletSession, error) {
	if strings.TrimSpace(creds.Identity) == "" {
		return nil, entity.ErrIdentityRequired
	}

	flightCtx := context.WithoutCancel(ctx)
	for round := 1; round <= maxConnectRounds; round++ {
		if s := o.sessionFor(creds); s != nil {
			return s, nil
		}

		ch := o.flight.DoChan(connectFlightKey, func() (v any, err error) {
			v = connectRun{creds: creds}
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("connect panicked: %v", r)
				}
			}()
			session, err := o.connect(flightCtx, creds)
			return connectRun{creds: creds, session: session}, err
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		run, _ := res.Val.(connectRun)
		if res.Shared && !run.serves(creds) {
			o.logger.Debug("Joined a connect for other credentials, connecting again",
				"owner", entity.NormalizeIdentity(creds.Identity), "round", round)
			continue
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return run.session, nil
	}
	return nil, entity.ErrConnectContended
}

// connectRun is the shared result of one flight.
type connectRun struct {
	creds   entity.Credentials
	session *entity.WalletSession
}

// serves reports whether a caller with creds may take this run's result as its own.
func (r connectRun) serves(creds entity.Credentials) bool {
	if entity.NormalizeIdentity(r.creds.Identity) != entity.NormalizeIdentity(creds.Identity) {
		return false
	}
	if creds.WalletID == "" {
		return true
	}
	if r.session != nil {
		return r.session.WalletID == creds.WalletID
	}
	return r.creds.WalletID == creds.WalletID
}

// sessionFor returns the live session when it already satisfies creds.
func (o *ConnectionOrchestrator) sessionFor(creds entity.Credentials) *entity.WalletSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !satisfies(o.session, creds) {
		return nil
	}
	return o.session
}

func satisfies(s *entity.WalletSession, creds entity.Credentials) bool {
	if s == nil || s.State != entity.SessionActive {
		return false
	}
	if entity.NormalizeIdentity(s.Owner) != entity.NormalizeIdentity(creds.Identity) {
		return false
	}
	return creds.WalletID == "" || creds.WalletID == s.WalletID
}

func (o *ConnectionOrchestrator) connect(ctx context.Context, creds entity.Credentials) (*entity.WalletSession, error) {
	o.mu.Lock()
	o.connectAttempts++
	generation := o.disconnects
	o.mu.Unlock()

	session, err := o.establish(ctx, creds)
	if err == nil && o.disconnectedSince(generation) {
		// establish may have saved the record after Disconnect deleted it.
		o.discardRecord(ctx)
		err = entity.ErrConnectSuperseded
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil && o.disconnects != generation {
		err = entity.ErrConnectSuperseded
	}
	if err != nil {
		o.lastConnectErr = err.Error()
		metrics.ConnectAttempts.WithLabelValues("failed").Inc()
		o.logger.Error("Wallet connect failed", "owner", creds.Identity, "error", err)
		return nil, err
	}
	o.lastConnectErr = ""
	o.session = session
	metrics.ConnectAttempts.WithLabelValues("succeeded").Inc()
	o.logger.Info("Wallet connected", "owner", session.Owner, "wallet", session.WalletID, "address", session.DerivedAddress)
	return session, nil
}

func (o *ConnectionOrchestrator) disconnectedSince(generation uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disconnects != generation
}

func (o *ConnectionOrchestrator) establish(ctx context.Context, creds entity.Credentials) (*entity.WalletSession, error) {
	if err := o.EnsureEngine(ctx); err != nil {
		return nil, err
	}

	fromStore := false
	if creds.WalletID == "" || creds.SecretMaterial == "" {
		rec, err := o.store.Load(ctx, o.cfg.SessionKey)
		switch {
		case err != nil:
			o.logger.Warn("Failed to read stored session record", "error", err)
		case rec.Usable() && rec.OwnedBy(creds.Identity):
			if creds.WalletID == "" {
				creds.WalletID = rec.WalletID
				fromStore = true
			}
			if creds.SecretMaterial == "" && creds.WalletID == rec.WalletID {
				creds.SecretMaterial = rec.SecretMaterial
			}
		}
	}
	if creds.SecretMaterial == "" {
		return nil, entity.ErrSecretMaterialRequired
	}

	walletID, err := o.ResolveWallet(ctx, creds)
	if err != nil && fromStore && creds.Mnemonic != "" {
		o.logger.Warn("Stored wallet could not be loaded, creating a new one from mnemonic", "wallet", creds.WalletID, "error", err)
		creds.WalletID = ""
		walletID, err = o.ResolveWallet(ctx, creds)
	}
	if err != nil {
		return nil, err
	}

	address, err := o.engine.DeriveAddress(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrAddressUnavailable, err)
	}
	if strings.TrimSpace(address) == "" {
		return nil, entity.ErrAddressUnavailable
	}

	session := &entity.WalletSession{
		WalletID:       walletID,
		DerivedAddress: address,
		SecretMaterial: creds.SecretMaterial,
		Owner:          entity.NormalizeIdentity(creds.Identity),
		State:          entity.SessionActive,
		ConnectedAt:    o.now(),
	}
	record := entity.SessionRecord{
		WalletID:       session.WalletID,
		DerivedAddress: session.DerivedAddress,
		SecretMaterial: session.SecretMaterial,
		OwnerIdentity:  session.Owner,
		UpdatedAt:      session.ConnectedAt,
	}
	if err := o.store.Save(ctx, o.cfg.SessionKey, record); err != nil {
		o.logger.Warn("Failed to persist session record; the session will not survive a restart", "wallet", walletID, "error", err)
	}
	return session, nil
}

// EnsureEngine starts the engine when needed, then (re)applies network validation bypasses and
// registers and verifies every provider. Provider failures degrade to warnings.
func (o *ConnectionOrchestrator) EnsureEngine(ctx context.Context) error {
	if o.engine.IsStarted(ctx) {
		o.logger.Debug("Engine already started, re-verifying providers")
	} else if err := o.startEngine(ctx); err != nil {
		o.engineReady.Store(false)
		return err
	}
	o.engineReady.Store(true)

	o.applyValidationBypass(ctx)

	g, gctx := errgroup.WithContext(ctx)
	results := make([]entity.ProviderRegistration, len(o.cfg.Networks))
	for i, network := range o.cfg.Networks {
		g.Go(func() error {
			results[i] = o.registerProvider(gctx, network)
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	for _, r := range results {
		o.providers[r.Network] = r
	}
	o.bootstrapRuns++
	o.mu.Unlock()
	metrics.BootstrapRuns.Inc()
	return nil
}

func (o *ConnectionOrchestrator) startEngine(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.EngineStartAttempts; attempt++ {
		lastErr = o.engine.Start(ctx)
		if lastErr == nil {
			o.logger.Info("Engine started", "attempt", attempt)
			return nil
		}
		o.logger.Warn("Engine start failed", "attempt", attempt, "maxAttempts", o.cfg.EngineStartAttempts, "error", lastErr)
		if attempt < o.cfg.EngineStartAttempts {
			o.sleep(o.cfg.EngineStartDelay * time.Duration(attempt))
		}
	}
	return fmt.Errorf("engine start failed after %d attempts: %w", o.cfg.EngineStartAttempts, lastErr)
}

// applyValidationBypass runs on every bootstrap, whether or not the engine was already started.
func (o *ConnectionOrchestrator) applyValidationBypass(ctx context.Context) {
	for _, network := range o.cfg.Networks {
		if !network.SkipExternalValidation {
			continue
		}
		if err := o.engine.SetValidationBypass(ctx, network.Name, true); err != nil {
			o.logger.Warn("Failed to apply validation bypass", "network", network.Name, "error", err)
			continue
		}
		o.mu.Lock()
		o.bypassed[network.Name] = struct{}{}
		o.mu.Unlock()
	}
}

func (o *ConnectionOrchestrator) registerProvider(ctx context.Context, network entity.NetworkDefinition) entity.ProviderRegistration {
	reg := entity.ProviderRegistration{Network: network.Name}
	cfg := entity.ProviderConfig{
		ChainID:           network.ChainID,
		Providers:         []entity.ProviderEntry{{Provider: network.RPCURL, Priority: 1, Weight: 2}},
		PollingIntervalMs: network.PollingIntervalMs,
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.ProviderMaxAttempts; attempt++ {
		reg.Attempts = attempt
		lastErr = o.registerOnce(ctx, network, cfg)
		if lastErr == nil {
			reg.Verified = true
			reg.LastErr = ""
			metrics.ProviderRegistrations.WithLabelValues(network.Name, "verified").Inc()
			o.logger.Info("Provider registered and verified", "network", network.Name, "attempt", attempt)
			return reg
		}
		o.logger.Warn("Provider registration not verified", "network", network.Name, "attempt", attempt, "error", lastErr)
		if attempt < o.cfg.ProviderMaxAttempts {
			o.sleep(o.cfg.ProviderRetryDelay)
		}
	}

	reg.LastErr = lastErr.Error()
	metrics.ProviderRegistrations.WithLabelValues(network.Name, "degraded").Inc()
	o.logger.Warn("Continuing without a verified provider", "network", network.Name, "attempts", reg.Attempts, "error", lastErr)
	return reg
}

// registerOnce probes the RPC, registers it and reads the registration back.
func (o *ConnectionOrchestrator) registerOnce(ctx context.Context, network entity.NetworkDefinition, cfg entity.ProviderConfig) error {
	if o.probe != nil && network.RPCURL != "" {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
		chainID, err := o.probe.ChainID(pctx, network.RPCURL)
		cancel()
		if err != nil {
			return fmt.Errorf("rpc probe: %w", err)
		}
		if network.ChainID != 0 && chainID != network.ChainID {
			return fmt.Errorf("rpc probe: chain id %d, expected %d", chainID, network.ChainID)
		}
	}

	if err := o.engine.RegisterProvider(ctx, network.Name, cfg); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	status, err := o.engine.QueryProvider(ctx, network.Name)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !status.Registered {
		return errors.New("verify: provider not registered")
	}
	if network.ChainID != 0 && status.ChainID != 0 && status.ChainID != network.ChainID {
		return fmt.Errorf("verify: engine reports chain id %d, expected %d", status.ChainID, network.ChainID)
	}
	return nil
}

// ResolveWallet returns the engine wallet id for creds. A known id is loaded with the key-first
// argument order, then the id-first order; a mnemonic without an id creates a wallet.
// It fails with ErrEngineNotStarted before the engine has been bootstrapped.
func (o *ConnectionOrchestrator) ResolveWallet(ctx context.Context, creds entity.Credentials) (string, error) {
	if !o.engineReady.Load() {
		return "", entity.ErrEngineNotStarted
	}

	if creds.WalletID != "" {
		id, firstErr := o.engine.LoadWalletByID(ctx, creds.SecretMaterial, creds.WalletID)
		if firstErr == nil && id != "" {
			return id, nil
		}
		if firstErr == nil {
			firstErr = errors.New("engine returned an empty wallet id")
		}
		o.logger.Debug("Key-first wallet load failed, retrying id-first", "wallet", creds.WalletID, "error", firstErr)

		id, secondErr := o.engine.LoadWalletByID(ctx, creds.WalletID, creds.SecretMaterial)
		if secondErr == nil && id != "" {
			return id, nil
		}
		if secondErr == nil {
			secondErr = errors.New("engine returned an empty wallet id")
		}
		return "", &entity.WalletResolutionError{WalletID: creds.WalletID, FirstOrder: firstErr, SecondOrder: secondErr}
	}

	if creds.Mnemonic != "" {
		id, err := o.engine.CreateWallet(ctx, creds.SecretMaterial, creds.Mnemonic)
		if err != nil {
			return "", fmt.Errorf("create wallet: %w", err)
		}
		if id == "" {
			return "", errors.New("create wallet: engine returned an empty wallet id")
		}
		return id, nil
	}
	return "", entity.ErrNoWalletSource
}

// Disconnect ends the live session and removes the stored record. It returns the ended session, if any.
func (o *ConnectionOrchestrator) Disconnect(ctx context.Context) (*entity.WalletSession, error) {
	o.mu.Lock()
	var ended *entity.WalletSession
	if o.session != nil {
		s := *o.session
		s.State = entity.SessionDisconnected
		ended = &s
	}
	o.session = nil
	o.disconnects++
	o.mu.Unlock()

	if ended != nil {
		o.logger.Info("Wallet disconnected", "owner", ended.Owner, "wallet", ended.WalletID)
	}
	if err := o.store.Delete(ctx, o.cfg.SessionKey); err != nil {
		return ended, fmt.Errorf("delete session record: %w", err)
	}
	return ended, nil
}

// Restore reconnects the stored session for identity. Every expected failure is reported through
// the result; a record owned by someone else, or missing required fields, is deleted.
func (o *ConnectionOrchestrator) Restore(ctx context.Context, identity string) entity.RestoreResult {
	if strings.TrimSpace(identity) == "" {
		return entity.RestoreResult{Outcome: entity.RestoreLoadFailed, Err: entity.ErrIdentityRequired}
	}

	rec, err := o.store.Load(ctx, o.cfg.SessionKey)
	if err != nil {
		return entity.RestoreResult{Outcome: entity.RestoreLoadFailed, Err: fmt.Errorf("read session record: %w", err)}
	}
	if rec == nil {
		return entity.RestoreResult{Outcome: entity.RestoreNothingStored}
	}
	if !rec.Usable() {
		o.logger.Info("Discarding incomplete session record")
		o.discardRecord(ctx)
		return entity.RestoreResult{Outcome: entity.RestoreInvalidRecord}
	}
	if !rec.OwnedBy(identity) {
		o.logger.Info("Discarding session record owned by another identity", "identity", entity.NormalizeIdentity(identity))
		o.discardRecord(ctx)
		return entity.RestoreResult{Outcome: entity.RestoreOwnerMismatch}
	}

	session, err := o.Connect(ctx, entity.Credentials{
		Identity:       identity,
		SecretMaterial: rec.SecretMaterial,
		WalletID:       rec.WalletID,
	})
	if err != nil {
		return entity.RestoreResult{Outcome: entity.RestoreLoadFailed, Err: err}
	}
	return entity.RestoreResult{Outcome: entity.RestoreRestored, Session: session}
}

func (o *ConnectionOrchestrator) discardRecord(ctx context.Context) {
	if err := o.store.Delete(ctx, o.cfg.SessionKey); err != nil {
		o.logger.Warn("Failed to delete stale session record", "error", err)
	}
}

// RefreshBalances asks the engine to rescan the connected wallet.
func (o *ConnectionOrchestrator) RefreshBalances(ctx context.Context) error {
	if !o.engineReady.Load() {
		return entity.ErrEngineNotStarted
	}
	s := o.Session()
	if s == nil {
		return entity.ErrNoActiveSession
	}
	if err := o.engine.RefreshBalances(ctx, []string{s.WalletID}); err != nil {
		return fmt.Errorf("refresh balances for %s: %w", s.WalletID, err)
	}
	return nil
}

// Session returns a copy of the live session, or nil.
func (o *ConnectionOrchestrator) Session() *entity.WalletSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	s := *o.session
	return &s
}

// EngineReady reports whether a bootstrap has succeeded.
func (o *ConnectionOrchestrator) EngineReady() bool {
	return o.engineReady.Load()
}

// State reports the live session, or falls back to the stored record (read-only) when there is none.
func (o *ConnectionOrchestrator) State(ctx context.Context) entity.ConnectionState {
	if s := o.Session(); s != nil {
		return entity.ConnectionState{
			Connected:      true,
			Owner:          s.Owner,
			WalletID:       s.WalletID,
			DerivedAddress: s.DerivedAddress,
		}
	}
	rec, err := o.store.Load(ctx, o.cfg.SessionKey)
	if err != nil || !rec.Usable() {
		return entity.ConnectionState{}
	}
	return entity.ConnectionState{
		Owner:          rec.OwnerIdentity,
		WalletID:       rec.WalletID,
		DerivedAddress: rec.DerivedAddress,
		FromStore:      true,
	}
}

// IsConnectedFor reports whether a live session belongs to identity.
func (o *ConnectionOrchestrator) IsConnectedFor(identity string) bool {
	s := o.Session()
	return s != nil && identity != "" && s.Owner == entity.NormalizeIdentity(identity)
}

// Diagnostics summarises bootstrap and connection history.
func (o *ConnectionOrchestrator) Diagnostics(ctx context.Context) entity.ConnectionDiagnostics {
	state := o.State(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	d := entity.ConnectionDiagnostics{
		EngineStarted:   o.engineReady.Load(),
		BootstrapRuns:   o.bootstrapRuns,
		ConnectAttempts: o.connectAttempts,
		LastConnectErr:  o.lastConnectErr,
		State:           state,
	}
	for _, r := range o.providers {
		d.Providers = append(d.Providers, r)
	}
	sort.Slice(d.Providers, func(i, j int) bool { return d.Providers[i].Network < d.Providers[j].Network })
	for name := range o.bypassed {
		d.BypassedNetworks = append(d.BypassedNetworks, name)
	}
	sort.Strings(d.BypassedNetworks)
	return d
}
