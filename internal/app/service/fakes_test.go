package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/logger"
)

var nopLogger = logger.Nop{}

// fakeEngine is a scriptable port.WalletEngine.
type fakeEngine struct {
	mu sync.Mutex

	started        bool
	startFailures  int
	startDelay     time.Duration
	startGate      chan struct{} // Start blocks until closed when set
	startCalls     int32
	registerFails  map[string]int
	queryFails     map[string]int
	registerCalls  map[string]int
	registered     map[string]entity.ProviderConfig
	bypass         map[string]int
	wallets        map[string]string // walletID -> key
	keyFirst       bool              // LoadWalletByID accepts (key, id) when true, (id, key) otherwise
	loadCalls      [][]string
	createCalls    int
	createdID      string
	addressFor     map[string]string
	deriveErr      error
	refreshCalls   [][]string
	panicOnCreate  bool
	isStartedCalls atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		registerFails: map[string]int{},
		queryFails:    map[string]int{},
		registerCalls: map[string]int{},
		registered:    map[string]entity.ProviderConfig{},
		bypass:        map[string]int{},
		wallets:       map[string]string{},
		keyFirst:      true,
		createdID:     "wallet-new",
		addressFor:    map[string]string{},
	}
}

func (f *fakeEngine) IsStarted(context.Context) bool {
	f.isStartedCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeEngine) Start(context.Context) error {
	atomic.AddInt32(&f.startCalls, 1)
	if f.startGate != nil {
		<-f.startGate
	}
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startFailures > 0 {
		f.startFailures--
		return errors.New("engine boot failed")
	}
	f.started = true
	return nil
}

func (f *fakeEngine) SetValidationBypass(_ context.Context, network string, bypass bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bypass {
		f.bypass[network]++
	}
	return nil
}

func (f *fakeEngine) RegisterProvider(_ context.Context, network string, cfg entity.ProviderConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls[network]++
	if f.registerFails[network] > 0 {
		f.registerFails[network]--
		return fmt.Errorf("register %s: rpc unreachable", network)
	}
	f.registered[network] = cfg
	return nil
}

func (f *fakeEngine) QueryProvider(_ context.Context, network string) (entity.ProviderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryFails[network] > 0 {
		f.queryFails[network]--
		return entity.ProviderStatus{Network: network}, nil
	}
	cfg, ok := f.registered[network]
	return entity.ProviderStatus{Network: network, Registered: ok, ChainID: cfg.ChainID}, nil
}

func (f *fakeEngine) LoadWalletByID(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls = append(f.loadCalls, append([]string(nil), args...))
	if len(args) != 2 {
		return "", errors.New("bad arity")
	}
	key, id := args[0], args[1]
	if !f.keyFirst {
		key, id = args[1], args[0]
	}
	stored, ok := f.wallets[id]
	if !ok {
		return "", fmt.Errorf("wallet %q not found", id)
	}
	if stored != key {
		return "", errors.New("invalid encryption key")
	}
	return id, nil
}

func (f *fakeEngine) CreateWallet(_ context.Context, key, mnemonic string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnCreate {
		panic("engine exploded")
	}
	f.createCalls++
	if strings.TrimSpace(mnemonic) == "" {
		return "", errors.New("empty mnemonic")
	}
	f.wallets[f.createdID] = key
	return f.createdID, nil
}

func (f *fakeEngine) DeriveAddress(_ context.Context, walletID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deriveErr != nil {
		return "", f.deriveErr
	}
	if addr, ok := f.addressFor[walletID]; ok {
		return addr, nil
	}
	return "0zk1" + walletID, nil
}

func (f *fakeEngine) RefreshBalances(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls = append(f.refreshCalls, ids)
	return nil
}

func (f *fakeEngine) starts() int { return int(atomic.LoadInt32(&f.startCalls)) }

// memStore is an in-process port.SessionStore.
type memStore struct {
	mu      sync.Mutex
	records map[string]entity.SessionRecord
	loadErr error
	deletes int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]entity.SessionRecord{}}
}

func (m *memStore) Load(_ context.Context, key string) (*entity.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) Save(_ context.Context, key string, rec entity.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.records, key)
	return nil
}

func (m *memStore) get(key string) (entity.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok
}

// fakeProbe answers a fixed chain id per RPC URL.
type fakeProbe struct {
	chainIDs map[string]uint64
	calls    atomic.Int32
}

func (p *fakeProbe) ChainID(_ context.Context, rpcURL string) (uint64, error) {
	p.calls.Add(1)
	id, ok := p.chainIDs[rpcURL]
	if !ok {
		return 0, errors.New("dial tcp: connection refused")
	}
	return id, nil
}

// fakeHasher derives a deterministic hash from the address, or fails/panics on demand.
type fakeHasher struct {
	fail  bool
	panic bool
	calls int
}

func (h *fakeHasher) TokenDataHash(data entity.TokenData) (string, error) {
	h.calls++
	if h.panic {
		panic("hasher blew up")
	}
	if h.fail {
		return "", errors.New("unsupported token")
	}
	return "0xhash" + strings.TrimPrefix(strings.ToLower(data.TokenAddress), "0x"), nil
}
