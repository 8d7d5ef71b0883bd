package sale

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"launchpool/core/events"
)

type mockState struct {
	sales map[[32]byte]*Sale
	puts  int
}

func newMockState() *mockState {
	return &mockState{sales: make(map[[32]byte]*Sale)}
}

func (m *mockState) SaleGet(id [32]byte) (*Sale, bool) {
	s, ok := m.sales[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (m *mockState) SalePut(s *Sale) error {
	if s == nil {
		return fmt.Errorf("nil sale")
	}
	m.puts++
	m.sales[s.ID] = s.Clone()
	return nil
}

func (m *mockState) SaleDelete(id [32]byte) error {
	delete(m.sales, id)
	return nil
}

type mockLedger struct {
	balances   map[[20]byte]map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]map[[20]byte]*big.Int
	burned     map[[20]byte]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances:   make(map[[20]byte]map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]map[[20]byte]*big.Int),
		burned:     make(map[[20]byte]*big.Int),
	}
}

func (m *mockLedger) credit(token, account [20]byte, amount *big.Int) {
	if m.balances[token] == nil {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	current := m.balances[token][account]
	if current == nil {
		current = big.NewInt(0)
	}
	m.balances[token][account] = new(big.Int).Add(current, amount)
}

func (m *mockLedger) balance(token, account [20]byte) *big.Int {
	if m.balances[token] == nil || m.balances[token][account] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.balances[token][account])
}

func (m *mockLedger) Transfer(token, from, to [20]byte, amount *big.Int) error {
	if m.balance(token, from).Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient balance")
	}
	m.balances[token][from] = new(big.Int).Sub(m.balances[token][from], amount)
	m.credit(token, to, amount)
	return nil
}

func (m *mockLedger) Approve(token, owner, spender [20]byte, amount *big.Int) error {
	if m.allowances[token] == nil {
		m.allowances[token] = make(map[[20]byte]map[[20]byte]*big.Int)
	}
	if m.allowances[token][owner] == nil {
		m.allowances[token][owner] = make(map[[20]byte]*big.Int)
	}
	m.allowances[token][owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (m *mockLedger) allowance(token, owner, spender [20]byte) *big.Int {
	if m.allowances[token] == nil || m.allowances[token][owner] == nil || m.allowances[token][owner][spender] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.allowances[token][owner][spender])
}

func (m *mockLedger) TransferFrom(token, spender, from, to [20]byte, amount *big.Int) error {
	allowed := m.allowance(token, from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient allowance")
	}
	if err := m.Transfer(token, from, to, amount); err != nil {
		return err
	}
	m.allowances[token][from][spender] = allowed.Sub(allowed, amount)
	return nil
}

func (m *mockLedger) BalanceOf(token, account [20]byte) (*big.Int, error) {
	return m.balance(token, account), nil
}

func (m *mockLedger) Burn(token, from [20]byte, amount *big.Int) error {
	if err := m.Transfer(token, from, [20]byte{}, amount); err != nil {
		return err
	}
	current := m.burned[token]
	if current == nil {
		current = big.NewInt(0)
	}
	m.burned[token] = current.Add(current, amount)
	return nil
}

type mockCurrency struct {
	balances map[[20]byte]*big.Int
}

func newMockCurrency() *mockCurrency {
	return &mockCurrency{balances: make(map[[20]byte]*big.Int)}
}

func (m *mockCurrency) credit(account [20]byte, amount *big.Int) {
	current := m.balances[account]
	if current == nil {
		current = big.NewInt(0)
	}
	m.balances[account] = new(big.Int).Add(current, amount)
}

func (m *mockCurrency) balance(account [20]byte) *big.Int {
	if m.balances[account] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.balances[account])
}

func (m *mockCurrency) Send(from, to [20]byte, amount *big.Int) error {
	if m.balance(from).Cmp(amount) < 0 {
		return fmt.Errorf("currency: insufficient balance")
	}
	m.balances[from] = new(big.Int).Sub(m.balances[from], amount)
	m.credit(to, amount)
	return nil
}

func (m *mockCurrency) BalanceOf(account [20]byte) (*big.Int, error) {
	return m.balance(account), nil
}

// mockRouter seeds a fixed pair and mints LP units one-to-one against the
// currency leg, which is enough resolution for the engine's bookkeeping.
type mockRouter struct {
	ledger   *mockLedger
	currency *mockCurrency
	pair     [20]byte
	failAdd  bool
	adds     int
}

func (m *mockRouter) AddLiquidity(token [20]byte, from, recipient [20]byte, currencyAmount, tokenAmount *big.Int) (*big.Int, error) {
	if m.failAdd {
		return nil, fmt.Errorf("router: pair unavailable")
	}
	if err := m.currency.Send(from, m.pair, currencyAmount); err != nil {
		return nil, err
	}
	if err := m.ledger.Transfer(token, from, m.pair, tokenAmount); err != nil {
		return nil, err
	}
	m.ledger.credit(m.pair, recipient, currencyAmount)
	m.adds++
	return new(big.Int).Set(currencyAmount), nil
}

func (m *mockRouter) ResolvePair(token [20]byte) ([20]byte, error) {
	return m.pair, nil
}

type mockLock struct {
	owner      [20]byte
	token      [20]byte
	amount     *big.Int
	unlockTime int64
	isLP       bool
	vesting    bool
}

type mockLocker struct {
	nextID       int
	locks        map[string]*mockLock
	withdrawable map[string]*big.Int
	failUnlock   error
}

func newMockLocker() *mockLocker {
	return &mockLocker{
		locks:        make(map[string]*mockLock),
		withdrawable: make(map[string]*big.Int),
	}
}

func (m *mockLocker) Lock(owner, from, token [20]byte, isLP bool, amount *big.Int, unlockTime int64, label string) (string, error) {
	m.nextID++
	id := fmt.Sprintf("lock-%d", m.nextID)
	m.locks[id] = &mockLock{owner: owner, token: token, amount: new(big.Int).Set(amount), unlockTime: unlockTime, isLP: isLP}
	return id, nil
}

func (m *mockLocker) VestingLock(owner, from, token [20]byte, isLP bool, amount *big.Int, delay int64, firstPct uint64, period int64, cyclePct uint64, label string) (string, error) {
	m.nextID++
	id := fmt.Sprintf("lock-%d", m.nextID)
	m.locks[id] = &mockLock{owner: owner, token: token, amount: new(big.Int).Set(amount), isLP: isLP, vesting: true}
	return id, nil
}

func (m *mockLocker) Unlock(lockID string, caller [20]byte) error {
	if m.failUnlock != nil {
		return m.failUnlock
	}
	lock, ok := m.locks[lockID]
	if !ok {
		return fmt.Errorf("locker: unknown lock")
	}
	if lock.owner != caller {
		return fmt.Errorf("locker: not the lock owner")
	}
	return nil
}

func (m *mockLocker) WithdrawableTokens(lockID string) (*big.Int, error) {
	amount := m.withdrawable[lockID]
	if amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

type membership struct {
	participant [20]byte
	saleID      [32]byte
}

type mockRegistryHook struct {
	memberships []membership
	removed     [][20]byte
	recordErr   error
}

func (m *mockRegistryHook) RecordContribution(participant [20]byte, saleID [32]byte) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.memberships = append(m.memberships, membership{participant, saleID})
	return nil
}

func (m *mockRegistryHook) RemovePoolForToken(token [20]byte) error {
	m.removed = append(m.removed, token)
	return nil
}

type testEnv struct {
	engine   *Engine
	state    *mockState
	ledger   *mockLedger
	currency *mockCurrency
	router   *mockRouter
	locker   *mockLocker
	registry *mockRegistryHook
	ring     *events.Ring
	now      int64
}

var (
	envRegistry   = testAddr(0xF0)
	envPair       = testAddr(0xF1)
	envToken      = testAddr(0x01)
	envOwner      = testAddr(0x03)
	envGovernance = testAddr(0x04)
)

func newTestEnv() *testEnv {
	env := &testEnv{
		state:    newMockState(),
		ledger:   newMockLedger(),
		currency: newMockCurrency(),
		locker:   newMockLocker(),
		registry: &mockRegistryHook{},
		ring:     events.NewRing(64),
		now:      1000,
	}
	env.router = &mockRouter{ledger: env.ledger, currency: env.currency, pair: envPair}
	e := NewEngine()
	e.SetState(env.state)
	e.SetLedger(env.ledger)
	e.SetCurrency(env.currency)
	e.SetRouter(env.router)
	e.SetLocker(env.locker)
	e.SetRegistry(env.registry, envRegistry)
	e.SetEmitter(env.ring)
	e.SetNowFunc(func() int64 { return env.now })
	env.engine = e
	return env
}

// createSale initialises a sale with the shared test parameters and escrows
// the full token requirement at the sale address: 300 for sale volume, 6 for
// the token fee and 114 for the liquidity leg.
func (env *testEnv) createSale(t *testing.T, mutate func(cfg *SaleConfig)) *Sale {
	t.Helper()
	cfg := validConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := env.engine.Initialize(cfg)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	env.ledger.credit(cfg.Token, s.Address, big.NewInt(420))
	return s
}

func (env *testEnv) fund(addr [20]byte, amount int64) {
	env.currency.credit(addr, big.NewInt(amount))
}

func (env *testEnv) contribute(t *testing.T, id [32]byte, who [20]byte, amount int64) {
	t.Helper()
	env.fund(who, amount)
	if err := env.engine.Contribute(who, id, big.NewInt(amount)); err != nil {
		t.Fatalf("contribute %d: %v", amount, err)
	}
}

func (env *testEnv) sale(t *testing.T, id [32]byte) *Sale {
	t.Helper()
	s, ok := env.state.SaleGet(id)
	if !ok {
		t.Fatal("sale missing from state")
	}
	return s
}

func TestInitializePersistsSale(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)

	stored := env.sale(t, s.ID)
	if stored.State != SaleInUse {
		t.Fatalf("expected in_use, got %s", stored.State)
	}
	if stored.Address != DeriveAddress(s.ID) {
		t.Fatal("sale address must derive from the identifier")
	}
	if stored.TotalRaised.Sign() != 0 || stored.TotalVolumePurchased.Sign() != 0 {
		t.Fatal("fresh sale must start with zero aggregates")
	}
	if recent := env.ring.Recent(1); len(recent) != 1 || recent[0].Type != EventTypeSaleCreated {
		t.Fatal("expected a creation event")
	}
}

func TestInitializeRejectsDuplicateID(t *testing.T) {
	env := newTestEnv()
	env.createSale(t, nil)
	_, err := env.engine.Initialize(validConfig())
	if !errors.Is(err, ErrSaleExists) {
		t.Fatalf("expected ErrSaleExists, got %v", err)
	}
}

func TestContributeWindow(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	alice := testAddr(0x10)
	env.fund(alice, 100)

	env.now = 1100 // exactly the start instant stays closed
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	env.now = 2000 // exactly the end instant is closed too
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); !errors.Is(err, ErrEnded) {
		t.Fatalf("expected ErrEnded, got %v", err)
	}
	env.now = 1500
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); err != nil {
		t.Fatalf("contribute inside the window: %v", err)
	}
}

func TestContributeAccounting(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	alice := testAddr(0x10)
	bob := testAddr(0x11)

	env.contribute(t, s.ID, alice, 20)
	env.contribute(t, s.ID, alice, 10)
	env.contribute(t, s.ID, bob, 15)

	stored := env.sale(t, s.ID)
	if stored.TotalRaised.Cmp(big.NewInt(45)) != 0 {
		t.Fatalf("raised: expected 45, got %s", stored.TotalRaised)
	}
	// 3 tokens per currency unit.
	if stored.TotalVolumePurchased.Cmp(big.NewInt(135)) != 0 {
		t.Fatalf("volume: expected 135, got %s", stored.TotalVolumePurchased)
	}
	if len(stored.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(stored.Participants))
	}
	rec := stored.Contributions[alice]
	if rec.Contributed.Cmp(big.NewInt(30)) != 0 || rec.Purchased.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("alice record mismatch: %s/%s", rec.Contributed, rec.Purchased)
	}
	if env.currency.balance(s.Address).Cmp(big.NewInt(45)) != 0 {
		t.Fatal("contributions must escrow at the sale address")
	}
	// Membership is recorded once per participant.
	if len(env.registry.memberships) != 2 {
		t.Fatalf("expected 2 membership records, got %d", len(env.registry.memberships))
	}
}

func TestContributeBounds(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	alice := testAddr(0x10)
	env.fund(alice, 200)

	if err := env.engine.Contribute(alice, s.ID, big.NewInt(0)); !errors.Is(err, ErrZeroContribution) {
		t.Fatalf("expected ErrZeroContribution, got %v", err)
	}
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(5)); !errors.Is(err, ErrBelowMin) {
		t.Fatalf("expected ErrBelowMin, got %v", err)
	}
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(60)); !errors.Is(err, ErrAboveMax) {
		t.Fatalf("expected ErrAboveMax, got %v", err)
	}
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(120)); !errors.Is(err, ErrHardCapExceeded) {
		t.Fatalf("expected ErrHardCapExceeded, got %v", err)
	}
	// Accumulated position above max is rejected too.
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(40)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); !errors.Is(err, ErrAboveMax) {
		t.Fatalf("expected ErrAboveMax on the accumulated position, got %v", err)
	}
}

func TestContributeDustClosesHardCap(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500

	env.contribute(t, s.ID, testAddr(0x10), 50)
	env.contribute(t, s.ID, testAddr(0x11), 45)

	// Headroom is 5, below the minimum of 10; the sub-minimum closer is
	// admitted so the cap can be exhausted exactly.
	carol := testAddr(0x12)
	env.contribute(t, s.ID, carol, 5)

	stored := env.sale(t, s.ID)
	if stored.TotalRaised.Cmp(stored.Config.HardCap) != 0 {
		t.Fatal("hard cap must be exhausted exactly")
	}
	dave := testAddr(0x13)
	env.fund(dave, 10)
	if err := env.engine.Contribute(dave, s.ID, big.NewInt(1)); !errors.Is(err, ErrHardCapReached) {
		t.Fatalf("expected ErrHardCapReached, got %v", err)
	}
}

func TestContributeZeroPurchaseRejected(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, func(cfg *SaleConfig) {
		cfg.Token = testAddr(0x02)
		cfg.Rate = big.NewInt(1)
		cfg.ListingRate = big.NewInt(1)
	})
	env.now = 1500
	alice := testAddr(0x10)
	env.fund(alice, 100)
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(10)); !errors.Is(err, ErrZeroPurchase) {
		t.Fatalf("expected ErrZeroPurchase, got %v", err)
	}
}

func TestContributeWhitelistGate(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, func(cfg *SaleConfig) { cfg.WhitelistEnabled = true })
	env.now = 1500
	alice := testAddr(0x10)
	bob := testAddr(0x11)
	env.fund(alice, 100)
	env.fund(bob, 100)

	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}
	if err := env.engine.AddWhitelisted(envOwner, s.ID, [][20]byte{alice}); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); err != nil {
		t.Fatalf("whitelisted contribution: %v", err)
	}

	// Once the public round opens the gate is bypassed without disabling it.
	if err := env.engine.SetPublicStart(envOwner, s.ID, 1400); err != nil {
		t.Fatalf("set public start: %v", err)
	}
	if err := env.engine.Contribute(bob, s.ID, big.NewInt(20)); err != nil {
		t.Fatalf("public round contribution: %v", err)
	}
}

func TestContributeSurvivesRegistryHookFailure(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.registry.recordErr = fmt.Errorf("registry down")
	env.now = 1500
	alice := testAddr(0x10)
	env.fund(alice, 100)
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); err != nil {
		t.Fatalf("contribution must survive a membership bookkeeping failure: %v", err)
	}
	if env.sale(t, s.ID).TotalRaised.Cmp(big.NewInt(20)) != 0 {
		t.Fatal("contribution must still be recorded")
	}
}

func TestFinalizeFullRaise(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)

	if err := env.engine.Finalize(envOwner, s.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	stored := env.sale(t, s.ID)
	if stored.State != SaleCompleted {
		t.Fatalf("expected completed, got %s", stored.State)
	}
	if stored.FinalizedAt != 1500 || stored.Config.EndTime != 1500 {
		t.Fatal("finalize must freeze the end time to the finalization instant")
	}
	if stored.LiquidityPair != envPair || stored.LiquidityLockID == "" {
		t.Fatal("finalize must record the pair and the lock")
	}

	// 100 raised: 5 currency fee, 6 token fee, 57/114 liquidity legs, the
	// 38 currency leftover to the owner.
	if env.currency.balance(envGovernance).Cmp(big.NewInt(5)) != 0 {
		t.Fatal("currency fee must reach governance")
	}
	if env.ledger.balance(envToken, envGovernance).Cmp(big.NewInt(6)) != 0 {
		t.Fatal("token fee must reach governance")
	}
	if env.currency.balance(envOwner).Cmp(big.NewInt(38)) != 0 {
		t.Fatal("currency proceeds must reach the owner")
	}
	if env.currency.balance(envPair).Cmp(big.NewInt(57)) != 0 {
		t.Fatal("liquidity currency leg must reach the pair")
	}
	if env.ledger.balance(envToken, envPair).Cmp(big.NewInt(114)) != 0 {
		t.Fatal("liquidity token leg must reach the pair")
	}
	// The sale keeps exactly the purchased volume for claims.
	if env.ledger.balance(envToken, s.Address).Cmp(big.NewInt(300)) != 0 {
		t.Fatal("sale must retain the purchased volume")
	}
	if env.ledger.allowance(envToken, s.Address, s.Address).Cmp(big.NewInt(300)) != 0 {
		t.Fatal("claim allowance must cover the purchased volume")
	}

	lock := env.locker.locks[stored.LiquidityLockID]
	if lock == nil || !lock.isLP || lock.unlockTime != 1500+MinLiquidityLockSeconds {
		t.Fatal("liquidity lock must cover the configured duration")
	}
}

func TestFinalizeBySoftCapAfterEnd(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 40)
	env.contribute(t, s.ID, testAddr(0x11), 20)

	if err := env.engine.Finalize(envOwner, s.ID); !errors.Is(err, ErrFinalizeForbidden) {
		t.Fatalf("soft cap alone must not finalize early, got %v", err)
	}
	env.now = 2500
	if err := env.engine.Finalize(envOwner, s.ID); err != nil {
		t.Fatalf("finalize after end: %v", err)
	}
	stored := env.sale(t, s.ID)
	if stored.Config.EndTime != 2500 {
		t.Fatal("end time must move to the finalization instant")
	}
}

func TestFinalizeRequiresOperator(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)

	if err := env.engine.Finalize(testAddr(0x10), s.ID); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	if err := env.engine.Finalize(envGovernance, s.ID); err != nil {
		t.Fatalf("governance must be allowed to finalize: %v", err)
	}
}

func TestFinalizeAbortsWithoutPersistingOnRouterFailure(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)

	env.router.failAdd = true
	if err := env.engine.Finalize(envOwner, s.ID); err == nil {
		t.Fatal("expected router failure to abort finalize")
	}
	stored := env.sale(t, s.ID)
	if stored.State != SaleInUse {
		t.Fatal("a failed finalize must not persist the completed state")
	}
	if stored.LiquidityLockID != "" || stored.FinalizedAt != 0 {
		t.Fatal("a failed finalize must not persist partial results")
	}
}

func TestFinalizeTwiceRejected(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)
	if err := env.engine.Finalize(envOwner, s.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := env.engine.Finalize(envOwner, s.ID); !errors.Is(err, ErrSaleNotActive) {
		t.Fatalf("expected ErrSaleNotActive, got %v", err)
	}
}

func TestFinalizeBurnsLeftoverWhenConfigured(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, func(cfg *SaleConfig) { cfg.RefundPolicy = BurnLeftover })
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 40)
	env.contribute(t, s.ID, testAddr(0x11), 20)
	env.now = 2500
	if err := env.engine.Finalize(envOwner, s.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// 60 raised at 3x: volume 180, token fee 3, liquidity 34/68. The escrowed
	// 420 leaves 169 unsold, burned instead of refunded.
	if env.ledger.burned[envToken] == nil || env.ledger.burned[envToken].Cmp(big.NewInt(169)) != 0 {
		t.Fatalf("expected 169 burned, got %v", env.ledger.burned[envToken])
	}
	if env.ledger.balance(envToken, envOwner).Sign() != 0 {
		t.Fatal("burn policy must not refund the owner")
	}
}

func TestClaimImmediateSchedule(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	alice := testAddr(0x10)
	env.contribute(t, s.ID, alice, 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)

	if _, err := env.engine.Claim(alice, s.ID); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized, got %v", err)
	}
	if err := env.engine.Finalize(envOwner, s.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, err := env.engine.Claim(alice, s.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected 150 claimed, got %s", got)
	}
	if env.ledger.balance(envToken, alice).Cmp(big.NewInt(150)) != 0 {
		t.Fatal("claimed tokens must reach the participant")
	}
	if _, err := env.engine.Claim(alice, s.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
	if _, err := env.engine.Claim(testAddr(0x42), s.ID); !errors.Is(err, ErrNoContribution) {
		t.Fatalf("expected ErrNoContribution, got %v", err)
	}
}

func TestClaimFollowsVestingCurve(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, func(cfg *SaleConfig) {
		cfg.Vesting = VestingSchedule{FirstReleasePct: 10, Period: 100, CyclePct: 20}
	})
	env.now = 1500
	alice := testAddr(0x10)
	env.contribute(t, s.ID, alice, 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)
	if err := env.engine.Finalize(envOwner, s.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Purchased 150; first release of 10% at the finalization instant.
	got, err := env.engine.Claim(alice, s.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("first release: expected 15, got %s", got)
	}

	env.now = 1600 // one cycle adds 20%
	got, err = env.engine.Claim(alice, s.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("cycle release: expected 30, got %s", got)
	}

	env.now = 9999 // far future clamps to the full purchase
	got, err = env.engine.Claim(alice, s.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Cmp(big.NewInt(105)) != 0 {
		t.Fatalf("final release: expected 105, got %s", got)
	}
	rec := env.sale(t, s.ID).Contributions[alice]
	if rec.Claimed.Cmp(rec.Purchased) != 0 {
		t.Fatal("claims must converge on the purchased amount")
	}
}

func TestWithdrawContributionAfterFailedSale(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	alice := testAddr(0x10)
	env.contribute(t, s.ID, alice, 20)

	if _, err := env.engine.WithdrawContribution(alice, s.ID); !errors.Is(err, ErrNotEnded) {
		t.Fatalf("expected ErrNotEnded, got %v", err)
	}
	env.now = 2500
	got, err := env.engine.WithdrawContribution(alice, s.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected 20 refunded, got %s", got)
	}
	if env.currency.balance(alice).Cmp(big.NewInt(20)) != 0 {
		t.Fatal("refund must reach the participant")
	}
	stored := env.sale(t, s.ID)
	if stored.TotalRaised.Sign() != 0 || stored.TotalRefunded.Cmp(big.NewInt(20)) != 0 {
		t.Fatal("refund must adjust the aggregates")
	}
	if _, err := env.engine.WithdrawContribution(alice, s.ID); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
}

func TestWithdrawContributionBlockedWhenSoftCapMet(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	alice := testAddr(0x10)
	env.contribute(t, s.ID, alice, 40)
	env.contribute(t, s.ID, testAddr(0x11), 20)
	env.now = 2500
	if _, err := env.engine.WithdrawContribution(alice, s.ID); !errors.Is(err, ErrSoftCapReached) {
		t.Fatalf("expected ErrSoftCapReached, got %v", err)
	}
}

func TestWithdrawContributionAfterCancel(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	alice := testAddr(0x10)
	env.contribute(t, s.ID, alice, 20)

	if err := env.engine.Cancel(envOwner, s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Cancellation unlocks refunds immediately, before the end time.
	got, err := env.engine.WithdrawContribution(alice, s.ID)
	if err != nil {
		t.Fatalf("refund after cancel: %v", err)
	}
	if got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected 20 refunded, got %s", got)
	}
}

func TestCancelReturnsTokensAndReleasesReservation(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500

	if err := env.engine.Cancel(testAddr(0x10), s.ID); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	if err := env.engine.Cancel(envOwner, s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored := env.sale(t, s.ID)
	if stored.State != SaleCancelled {
		t.Fatalf("expected cancelled, got %s", stored.State)
	}
	if env.ledger.balance(envToken, envOwner).Cmp(big.NewInt(420)) != 0 {
		t.Fatal("cancel must return the escrowed tokens to the owner")
	}
	if len(env.registry.removed) != 1 || env.registry.removed[0] != envToken {
		t.Fatal("cancel must release the token reservation")
	}
	alice := testAddr(0x10)
	env.fund(alice, 50)
	if err := env.engine.Contribute(alice, s.ID, big.NewInt(20)); !errors.Is(err, ErrSaleNotActive) {
		t.Fatalf("expected ErrSaleNotActive, got %v", err)
	}
}

func TestDiscardRemovesUntouchedSale(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)

	if err := env.engine.Discard(envOwner, s.ID); !errors.Is(err, ErrDiscardForbidden) {
		t.Fatalf("expected ErrDiscardForbidden, got %v", err)
	}
	if err := env.engine.Discard(envRegistry, s.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if env.ledger.balance(envToken, envOwner).Cmp(big.NewInt(420)) != 0 {
		t.Fatal("discard must return the escrowed tokens to the owner")
	}
	if _, ok := env.state.SaleGet(s.ID); ok {
		t.Fatal("discard must drop the sale record")
	}
	if err := env.engine.Discard(envRegistry, s.ID); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}

func TestDiscardRejectsContributedSale(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, func(cfg *SaleConfig) { cfg.Token = testAddr(0x06) })
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 20)

	if err := env.engine.Discard(envRegistry, s.ID); !errors.Is(err, ErrSaleNotActive) {
		t.Fatalf("expected ErrSaleNotActive, got %v", err)
	}
	if _, ok := env.state.SaleGet(s.ID); !ok {
		t.Fatal("a contributed sale must survive a discard attempt")
	}
}

func TestWithdrawLeftoversAfterMiss(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 20)

	if _, err := env.engine.WithdrawLeftovers(envOwner, s.ID); !errors.Is(err, ErrNotEnded) {
		t.Fatalf("expected ErrNotEnded, got %v", err)
	}
	env.now = 2500
	got, err := env.engine.WithdrawLeftovers(envOwner, s.ID)
	if err != nil {
		t.Fatalf("withdraw leftovers: %v", err)
	}
	if got.Cmp(big.NewInt(420)) != 0 {
		t.Fatalf("expected the full escrow back, got %s", got)
	}
	// No state transition: refunds stay available.
	if env.sale(t, s.ID).State != SaleInUse {
		t.Fatal("leftover sweep must not change the sale state")
	}
}

func TestWithdrawLiquidity(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)
	if err := env.engine.Finalize(envOwner, s.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	env.locker.failUnlock = fmt.Errorf("locker: still locked")
	if _, err := env.engine.WithdrawLiquidity(envOwner, s.ID); err == nil {
		t.Fatal("a locked position must not be withdrawable")
	}
	env.locker.failUnlock = nil

	got, err := env.engine.WithdrawLiquidity(envOwner, s.ID)
	if err != nil {
		t.Fatalf("withdraw liquidity: %v", err)
	}
	if got.Cmp(big.NewInt(57)) != 0 {
		t.Fatalf("expected 57 LP units, got %s", got)
	}
	if env.ledger.balance(envPair, envOwner).Cmp(big.NewInt(57)) != 0 {
		t.Fatal("freed liquidity must reach the owner")
	}
}

func TestWithdrawLiquidityRequiresLock(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	if _, err := env.engine.WithdrawLiquidity(envOwner, s.ID); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized, got %v", err)
	}
}

func TestEmergencyWithdrawals(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	env.contribute(t, s.ID, testAddr(0x10), 50)
	env.contribute(t, s.ID, testAddr(0x11), 50)
	if err := env.engine.Finalize(envGovernance, s.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	rescue := testAddr(0x66)

	if err := env.engine.EmergencyWithdrawToken(envOwner, s.ID, envToken, rescue, big.NewInt(1)); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("expected ErrNotGovernance, got %v", err)
	}
	if err := env.engine.EmergencyWithdrawToken(envGovernance, s.ID, envPair, rescue, big.NewInt(1)); !errors.Is(err, ErrPairTokenRescue) {
		t.Fatalf("expected ErrPairTokenRescue, got %v", err)
	}
	if err := env.engine.EmergencyWithdrawToken(envGovernance, s.ID, envToken, rescue, big.NewInt(10)); err != nil {
		t.Fatalf("token rescue: %v", err)
	}
	if env.ledger.balance(envToken, rescue).Cmp(big.NewInt(10)) != 0 {
		t.Fatal("rescued tokens must reach the destination")
	}

	env.currency.credit(s.Address, big.NewInt(7))
	if err := env.engine.EmergencyWithdrawCurrency(envGovernance, s.ID, rescue, big.NewInt(7)); err != nil {
		t.Fatalf("currency rescue: %v", err)
	}
	if env.currency.balance(rescue).Cmp(big.NewInt(7)) != 0 {
		t.Fatal("rescued currency must reach the destination")
	}
}

func TestInitializeVestingRegistryOnly(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	tv := TeamVesting{Total: big.NewInt(40), Delay: 100, FirstPct: 25, Period: 100, CyclePct: 25}

	if err := env.engine.InitializeVesting(envOwner, s.ID, tv); !errors.Is(err, ErrVestingForbidden) {
		t.Fatalf("expected ErrVestingForbidden, got %v", err)
	}
	if err := env.engine.InitializeVesting(envRegistry, s.ID, tv); err != nil {
		t.Fatalf("vesting setup: %v", err)
	}
	stored := env.sale(t, s.ID)
	if !stored.Team.Configured || stored.Team.LockID == "" {
		t.Fatal("vesting setup must record the lock")
	}
	if err := env.engine.InitializeVesting(envRegistry, s.ID, tv); !errors.Is(err, ErrVestingConfigured) {
		t.Fatalf("expected ErrVestingConfigured, got %v", err)
	}
}

func TestAdminSurface(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	stranger := testAddr(0x77)
	heir := testAddr(0x78)

	if err := env.engine.EditDetails(envGovernance, s.ID, "x"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("details are owner-only, got %v", err)
	}
	if err := env.engine.EditDetails(envOwner, s.ID, "  launch notes  "); err != nil {
		t.Fatalf("edit details: %v", err)
	}
	if env.sale(t, s.ID).Config.Details != "launch notes" {
		t.Fatal("details must be stored trimmed")
	}

	if err := env.engine.TransferOwnership(stranger, s.ID, heir); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := env.engine.TransferOwnership(envOwner, s.ID, [20]byte{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for the zero owner, got %v", err)
	}
	if err := env.engine.TransferOwnership(envOwner, s.ID, heir); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if err := env.engine.EditDetails(envOwner, s.ID, "x"); !errors.Is(err, ErrNotOwner) {
		t.Fatal("the old owner must lose the role")
	}

	if err := env.engine.SetGovernance(heir, s.ID, stranger); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("expected ErrNotGovernance, got %v", err)
	}
	if err := env.engine.SetGovernance(envGovernance, s.ID, stranger); err != nil {
		t.Fatalf("set governance: %v", err)
	}
	if env.sale(t, s.ID).Config.Governance != stranger {
		t.Fatal("governance rotation must persist")
	}
}

func TestQueriesReflectState(t *testing.T) {
	env := newTestEnv()
	s := env.createSale(t, nil)
	env.now = 1500
	alice := testAddr(0x10)
	env.contribute(t, s.ID, alice, 20)

	rec, err := env.engine.ContributionOf(s.ID, alice)
	if err != nil {
		t.Fatalf("contribution: %v", err)
	}
	if rec.Contributed.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected 20 contributed, got %s", rec.Contributed)
	}
	empty, err := env.engine.ContributionOf(s.ID, testAddr(0x42))
	if err != nil || empty.Contributed.Sign() != 0 {
		t.Fatalf("unknown participant must read as an empty record: %v", err)
	}

	lo, hi, err := env.engine.AllocationHintOf(s.ID, alice)
	if err != nil {
		t.Fatalf("allocation hint: %v", err)
	}
	if lo.Sign() != 0 || hi.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("expected [0,30], got [%s,%s]", lo, hi)
	}

	if err := env.engine.AddWhitelisted(envOwner, s.ID, [][20]byte{alice}); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	admitted, err := env.engine.IsWhitelisted(s.ID, alice)
	if err != nil || !admitted {
		t.Fatalf("expected whitelist membership: %v", err)
	}
	listed, err := env.engine.WhitelistedAddresses(s.ID)
	if err != nil || len(listed) != 1 || listed[0] != alice {
		t.Fatalf("expected a single whitelist entry: %v", err)
	}
	if err := env.engine.RemoveWhitelisted(envOwner, s.ID, [][20]byte{alice}); err != nil {
		t.Fatalf("remove whitelist: %v", err)
	}
	listed, _ = env.engine.WhitelistedAddresses(s.ID)
	if len(listed) != 0 {
		t.Fatal("removal must drop the ordered entry")
	}
}

func TestUnknownSale(t *testing.T) {
	env := newTestEnv()
	var id [32]byte
	id[0] = 0xEE
	if err := env.engine.Contribute(testAddr(0x10), id, big.NewInt(10)); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
	if _, err := env.engine.SaleInfo(id); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}
