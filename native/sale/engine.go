package sale

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"launchpool/core/events"
)

var (
	errNilState          = errors.New("sale engine: state not configured")
	errNilLedger         = errors.New("sale engine: token ledger not configured")
	errNilCurrency       = errors.New("sale engine: currency transfer not configured")
	errNilRouter         = errors.New("sale engine: router not configured")
	errNilLocker         = errors.New("sale engine: locker not configured")
	ErrSaleNotFound      = errors.New("sale: not found")
	ErrSaleExists        = errors.New("sale: identifier already exists")
	ErrSaleNotActive     = errors.New("sale: not in use")
	ErrNotStarted        = errors.New("sale: contribution window not open")
	ErrEnded             = errors.New("sale: contribution window closed")
	ErrNotEnded          = errors.New("sale: contribution window still open")
	ErrZeroContribution  = errors.New("sale: contribution must be positive")
	ErrZeroPurchase      = errors.New("sale: contribution purchases no tokens")
	ErrNotWhitelisted    = errors.New("sale: caller not whitelisted")
	ErrHardCapReached    = errors.New("sale: hard cap reached")
	ErrHardCapExceeded   = errors.New("sale: contribution exceeds hard cap")
	ErrBelowMin          = errors.New("sale: contribution below minimum")
	ErrAboveMax          = errors.New("sale: contribution above maximum")
	ErrFinalizeForbidden = errors.New("sale: finalize conditions not met")
	ErrSoftCapReached    = errors.New("sale: soft cap was reached")
	ErrSoftCapNotMissed  = errors.New("sale: refund requires a failed sale")
	ErrNotFinalized      = errors.New("sale: not finalized")
	ErrNothingToClaim    = errors.New("sale: nothing to claim")
	ErrNoContribution    = errors.New("sale: no contribution recorded")
	ErrAlreadyRefunded   = errors.New("sale: contribution already refunded")
	ErrNoLiquidityLock   = errors.New("sale: no liquidity lock recorded")
	ErrPairTokenRescue   = errors.New("sale: liquidity pair token cannot be rescued")
	ErrVestingConfigured = errors.New("sale: team vesting already configured")
	ErrVestingForbidden  = errors.New("sale: team vesting is registry-only")
	ErrDiscardForbidden  = errors.New("sale: discard is registry-only")
)

// TokenLedger is the fungible-token backend. Every transfer reports
// failure explicitly; the engine aborts the enclosing operation on any error.
type TokenLedger interface {
	Transfer(token, from, to [20]byte, amount *big.Int) error
	TransferFrom(token, spender, from, to [20]byte, amount *big.Int) error
	Approve(token, owner, spender [20]byte, amount *big.Int) error
	BalanceOf(token, account [20]byte) (*big.Int, error)
	Burn(token, from [20]byte, amount *big.Int) error
}

// CurrencyTransfer moves base currency between addresses.
type CurrencyTransfer interface {
	Send(from, to [20]byte, amount *big.Int) error
	BalanceOf(account [20]byte) (*big.Int, error)
}

// Router is the AMM surface used to seed the listing liquidity.
type Router interface {
	AddLiquidity(token [20]byte, from, recipient [20]byte, currencyAmount, tokenAmount *big.Int) (*big.Int, error)
	ResolvePair(token [20]byte) ([20]byte, error)
}

// Locker is the time-lock vault. The engine holds only the
// opaque lock identifiers it returns.
type Locker interface {
	Lock(owner, from, token [20]byte, isLP bool, amount *big.Int, unlockTime int64, label string) (string, error)
	VestingLock(owner, from, token [20]byte, isLP bool, amount *big.Int, delay int64, firstPct uint64, period int64, cyclePct uint64, label string) (string, error)
	Unlock(lockID string, caller [20]byte) error
	WithdrawableTokens(lockID string) (*big.Int, error)
}

// RegistryHook receives best-effort notifications from the sale lifecycle.
type RegistryHook interface {
	RecordContribution(participant [20]byte, saleID [32]byte) error
	RemovePoolForToken(token [20]byte) error
}

type engineState interface {
	SaleGet(id [32]byte) (*Sale, bool)
	SalePut(*Sale) error
	SaleDelete(id [32]byte) error
}

// Engine drives the sale state machine. All mutating operations follow the
// same shape: load a clone, validate preconditions, mutate the clone, invoke
// fund movers, and persist only once every external step succeeded, so a
// failed transfer leaves the stored sale untouched.
type Engine struct {
	state    engineState
	ledger   TokenLedger
	currency CurrencyTransfer
	router   Router
	locker   Locker
	registry RegistryHook
	regAddr  [20]byte
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a sale engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetCurrency configures the base-currency mover.
func (e *Engine) SetCurrency(currency CurrencyTransfer) { e.currency = currency }

// SetRouter configures the AMM router.
func (e *Engine) SetRouter(router Router) { e.router = router }

// SetLocker configures the time-lock vault.
func (e *Engine) SetLocker(locker Locker) { e.locker = locker }

// SetRegistry configures the registry hook and the identity allowed to call
// the one-time team vesting setup.
func (e *Engine) SetRegistry(hook RegistryHook, addr [20]byte) {
	e.registry = hook
	e.regAddr = addr
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timelines.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) dependenciesReady() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.ledger == nil:
		return errNilLedger
	case e.currency == nil:
		return errNilCurrency
	case e.router == nil:
		return errNilRouter
	case e.locker == nil:
		return errNilLocker
	}
	return nil
}

func (e *Engine) loadSale(id [32]byte) (*Sale, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	s, ok := e.state.SaleGet(id)
	if !ok {
		return nil, ErrSaleNotFound
	}
	return s, nil
}

func (e *Engine) storeSale(s *Sale) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.SalePut(s)
}

// Initialize validates the configuration and persists a fresh sale. It is
// invoked by the registry at creation time; the derived identifier is a
// function of the owner, the token and the creation instant.
func (e *Engine) Initialize(cfg SaleConfig) (*Sale, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	now := e.now()
	if err := SanitizeConfig(&cfg, now); err != nil {
		return nil, err
	}
	id := DeriveID(cfg.Owner, cfg.Token, now)
	if _, ok := e.state.SaleGet(id); ok {
		return nil, ErrSaleExists
	}
	s := &Sale{
		ID:                   id,
		Address:              DeriveAddress(id),
		Config:               cfg,
		State:                SaleInUse,
		CreatedAt:            now,
		TotalRaised:          big.NewInt(0),
		TotalVolumePurchased: big.NewInt(0),
		TotalClaimed:         big.NewInt(0),
		TotalRefunded:        big.NewInt(0),
		Contributions:        make(map[[20]byte]*ContributionRecord),
		Whitelist:            make(map[[20]byte]bool),
		Team:                 TeamVesting{Total: big.NewInt(0)},
	}
	if err := e.storeSale(s); err != nil {
		return nil, err
	}
	e.emit(newSaleEvent(EventTypeSaleCreated, s, nil))
	return s.Clone(), nil
}

// InitializeVesting escrows the team allocation with the locker. It may be
// called at most once, by the registry only, immediately after creation.
func (e *Engine) InitializeVesting(caller [20]byte, id [32]byte, tv TeamVesting) error {
	if err := e.dependenciesReady(); err != nil {
		return err
	}
	if caller != e.regAddr || e.regAddr == ([20]byte{}) {
		return ErrVestingForbidden
	}
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if s.State != SaleInUse {
		return ErrSaleNotActive
	}
	if s.Team.Configured {
		return ErrVestingConfigured
	}
	if err := SanitizeTeamVesting(&tv); err != nil {
		return err
	}
	lockID, err := e.locker.VestingLock(s.Config.Owner, s.Address, s.Config.Token, false,
		tv.Total, tv.Delay, tv.FirstPct, tv.Period, tv.CyclePct, "team vesting")
	if err != nil {
		return err
	}
	tv.LockID = lockID
	tv.Configured = true
	s.Team = tv
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleVestingConfig, s, map[string]string{"lockId": lockID}))
	return nil
}

// Contribute admits a participant's base-currency contribution. The admission
// gate deliberately allows a final sub-minimum contribution once hard-cap
// headroom drops below the minimum, so the cap can be exhausted exactly.
func (e *Engine) Contribute(caller [20]byte, id [32]byte, amount *big.Int) error {
	if err := e.dependenciesReady(); err != nil {
		return err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if s.State != SaleInUse {
		return ErrSaleNotActive
	}
	now := e.now()
	if now <= s.Config.StartTime {
		return ErrNotStarted
	}
	if now >= s.Config.EndTime {
		return ErrEnded
	}
	amount = cloneBigInt(amount)
	if amount.Sign() <= 0 {
		return ErrZeroContribution
	}
	if s.TotalRaised.Cmp(s.Config.HardCap) >= 0 {
		return ErrHardCapReached
	}
	if s.Config.WhitelistEnabled && (s.PublicStart == 0 || now < s.PublicStart) {
		if !s.Whitelist[caller] {
			return ErrNotWhitelisted
		}
	}
	headroom := new(big.Int).Sub(s.Config.HardCap, s.TotalRaised)
	if amount.Cmp(headroom) > 0 {
		return ErrHardCapExceeded
	}
	rec := s.Contributions[caller]
	first := rec == nil
	if rec == nil {
		rec = &ContributionRecord{
			Contributed: big.NewInt(0),
			Purchased:   big.NewInt(0),
			Claimed:     big.NewInt(0),
			Refunded:    big.NewInt(0),
		}
	}
	newTotal, err := checkedAdd(rec.Contributed, amount)
	if err != nil {
		return err
	}
	if headroom.Cmp(s.Config.MinContribution) >= 0 && newTotal.Cmp(s.Config.MinContribution) < 0 {
		return ErrBelowMin
	}
	if newTotal.Cmp(s.Config.MaxContribution) > 0 {
		return ErrAboveMax
	}
	purchased, err := Convert(amount, s.Config.Rate)
	if err != nil {
		return err
	}
	if purchased.Sign() == 0 {
		return ErrZeroPurchase
	}
	rec.Contributed = newTotal
	if rec.Purchased, err = checkedAdd(rec.Purchased, purchased); err != nil {
		return err
	}
	if s.TotalRaised, err = checkedAdd(s.TotalRaised, amount); err != nil {
		return err
	}
	if s.TotalVolumePurchased, err = checkedAdd(s.TotalVolumePurchased, purchased); err != nil {
		return err
	}
	s.Contributions[caller] = rec
	if first {
		s.Participants = append(s.Participants, caller)
	}
	if err := e.currency.Send(caller, s.Address, amount); err != nil {
		return err
	}
	if first && e.registry != nil {
		// Best-effort side channel; a registry bookkeeping failure must not
		// unwind an otherwise valid contribution.
		_ = e.registry.RecordContribution(caller, s.ID)
	}
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newContributedEvent(s, caller, amount.String(), purchased.String()))
	return nil
}

func (e *Engine) finalizeAllowed(s *Sale, now int64) bool {
	if s.TotalRaised.Cmp(s.Config.HardCap) == 0 {
		return true
	}
	headroom := new(big.Int).Sub(s.Config.HardCap, s.TotalRaised)
	if headroom.Cmp(s.Config.MinContribution) < 0 {
		return true
	}
	return s.TotalRaised.Cmp(s.Config.SoftCap) >= 0 && now >= s.Config.EndTime
}

// Finalize transitions the sale to Completed and performs the full payout,
// liquidity seeding and locking sequence as one unit. Any external
// failure aborts the call before the Completed state is persisted.
func (e *Engine) Finalize(caller [20]byte, id [32]byte) error {
	if err := e.dependenciesReady(); err != nil {
		return err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := s.requireOperator(caller); err != nil {
		return err
	}
	if s.State != SaleInUse {
		return ErrSaleNotActive
	}
	now := e.now()
	if !e.finalizeAllowed(s, now) {
		return ErrFinalizeForbidden
	}
	split, err := FeeAndLiquidity(s.TotalRaised, s.Config.CurrencyFeePct, s.Config.TokenFeePct,
		s.TotalVolumePurchased, s.Config.LiquidityPct, s.Config.ListingRate)
	if err != nil {
		return err
	}
	s.State = SaleCompleted
	s.FinalizedAt = now
	// Vesting measures elapsed time from the end of the sale; freeze it to the
	// finalization instant so early finalizes do not shift the curve.
	s.Config.EndTime = now

	token := s.Config.Token
	if split.CurrencyFee.Sign() > 0 {
		if err := e.currency.Send(s.Address, s.Config.Governance, split.CurrencyFee); err != nil {
			return err
		}
	}
	if split.TokenFee.Sign() > 0 {
		if err := e.ledger.Transfer(token, s.Address, s.Config.Governance, split.TokenFee); err != nil {
			return err
		}
	}
	currencyBalance, err := e.currency.BalanceOf(s.Address)
	if err != nil {
		return err
	}
	if leftover := new(big.Int).Sub(currencyBalance, split.LiquidityCurrency); leftover.Sign() > 0 {
		if err := e.currency.Send(s.Address, s.Config.Owner, leftover); err != nil {
			return err
		}
	}
	tokenBalance, err := e.ledger.BalanceOf(token, s.Address)
	if err != nil {
		return err
	}
	needed, err := checkedAdd(split.LiquidityToken, s.TotalVolumePurchased)
	if err != nil {
		return err
	}
	if leftover := new(big.Int).Sub(tokenBalance, needed); leftover.Sign() > 0 {
		switch s.Config.RefundPolicy {
		case BurnLeftover:
			if err := e.ledger.Burn(token, s.Address, leftover); err != nil {
				return err
			}
		default:
			if err := e.ledger.Transfer(token, s.Address, s.Config.Owner, leftover); err != nil {
				return err
			}
		}
	}
	if _, err := e.router.AddLiquidity(token, s.Address, s.Address, split.LiquidityCurrency, split.LiquidityToken); err != nil {
		return err
	}
	pair, err := e.router.ResolvePair(token)
	if err != nil {
		return err
	}
	s.LiquidityPair = pair
	lpBalance, err := e.ledger.BalanceOf(pair, s.Address)
	if err != nil {
		return err
	}
	lockID, err := e.locker.Lock(s.Address, s.Address, pair, true, lpBalance,
		now+s.Config.LiquidityLockSeconds, "liquidity")
	if err != nil {
		return err
	}
	s.LiquidityLockID = lockID
	if err := e.ledger.Approve(token, s.Address, s.Address, s.TotalVolumePurchased); err != nil {
		return err
	}
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newFinalizedEvent(s, split))
	return nil
}

// Cancel irrevocably aborts the sale, releases the registry reservation for
// its token and returns the sale's entire token balance to the owner.
func (e *Engine) Cancel(caller [20]byte, id [32]byte) error {
	if err := e.dependenciesReady(); err != nil {
		return err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := s.requireOperator(caller); err != nil {
		return err
	}
	if s.State != SaleInUse {
		return ErrSaleNotActive
	}
	s.State = SaleCancelled
	if e.registry != nil {
		if err := e.registry.RemovePoolForToken(s.Config.Token); err != nil {
			return err
		}
	}
	balance, err := e.ledger.BalanceOf(s.Config.Token, s.Address)
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		if err := e.ledger.Transfer(s.Config.Token, s.Address, s.Config.Owner, balance); err != nil {
			return err
		}
	}
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleCancelled, s, nil))
	return nil
}

// Discard removes a sale whose creation funding never completed. Registry
// only, and only while the sale is untouched. Any escrow that did reach the
// sale address returns to the owner before the record is dropped, so a failed
// creation leaves no trace.
func (e *Engine) Discard(caller [20]byte, id [32]byte) error {
	if err := e.dependenciesReady(); err != nil {
		return err
	}
	if caller != e.regAddr || e.regAddr == ([20]byte{}) {
		return ErrDiscardForbidden
	}
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if s.State != SaleInUse || s.TotalRaised.Sign() > 0 {
		return ErrSaleNotActive
	}
	balance, err := e.ledger.BalanceOf(s.Config.Token, s.Address)
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		if err := e.ledger.Transfer(s.Config.Token, s.Address, s.Config.Owner, balance); err != nil {
			return err
		}
	}
	if err := e.state.SaleDelete(id); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleDiscarded, s, nil))
	return nil
}

// Claim releases the vested portion of a participant's purchase.
func (e *Engine) Claim(caller [20]byte, id [32]byte) (*big.Int, error) {
	if err := e.dependenciesReady(); err != nil {
		return nil, err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	if s.State != SaleCompleted {
		return nil, ErrNotFinalized
	}
	rec := s.Contributions[caller]
	if rec == nil || rec.Purchased.Sign() == 0 {
		return nil, ErrNoContribution
	}
	elapsed := e.now() - s.Config.EndTime
	due, err := s.Config.Vesting.Claimable(rec.Purchased, rec.Claimed, elapsed)
	if err != nil {
		return nil, err
	}
	if due.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}
	if rec.Claimed, err = checkedAdd(rec.Claimed, due); err != nil {
		return nil, err
	}
	if rec.Claimed.Cmp(rec.Purchased) > 0 {
		return nil, fmt.Errorf("sale: claimed exceeds purchased")
	}
	if s.TotalClaimed, err = checkedAdd(s.TotalClaimed, due); err != nil {
		return nil, err
	}
	if err := e.ledger.TransferFrom(s.Config.Token, s.Address, s.Address, caller, due); err != nil {
		return nil, err
	}
	if err := e.storeSale(s); err != nil {
		return nil, err
	}
	e.emit(newClaimedEvent(s, caller, due.String()))
	return due, nil
}

// WithdrawContribution refunds a participant after a failed or cancelled
// sale. The refund runs at most once per participant.
func (e *Engine) WithdrawContribution(caller [20]byte, id [32]byte) (*big.Int, error) {
	if err := e.dependenciesReady(); err != nil {
		return nil, err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	if s.State != SaleCancelled {
		if s.State != SaleInUse {
			return nil, ErrSaleNotActive
		}
		now := e.now()
		if now < s.Config.EndTime {
			return nil, ErrNotEnded
		}
		if s.TotalRaised.Cmp(s.Config.SoftCap) >= 0 {
			return nil, ErrSoftCapReached
		}
	}
	rec := s.Contributions[caller]
	if rec == nil {
		return nil, ErrNoContribution
	}
	if rec.Refunded.Sign() > 0 {
		return nil, ErrAlreadyRefunded
	}
	if rec.Contributed.Sign() == 0 {
		return nil, ErrNoContribution
	}
	amount := cloneBigInt(rec.Contributed)
	rec.Refunded = amount
	rec.Contributed = big.NewInt(0)
	s.TotalRaised = new(big.Int).Sub(s.TotalRaised, amount)
	if s.TotalRefunded, err = checkedAdd(s.TotalRefunded, amount); err != nil {
		return nil, err
	}
	if err := e.currency.Send(s.Address, caller, amount); err != nil {
		return nil, err
	}
	if err := e.storeSale(s); err != nil {
		return nil, err
	}
	e.emit(newRefundedEvent(s, caller, amount.String()))
	return amount, nil
}

// WithdrawLeftovers sweeps the sale's token balance back to the owner after a
// sale missed its soft cap. Unlike Cancel it performs no state transition and
// does not notify the registry; it is an operational convenience.
func (e *Engine) WithdrawLeftovers(caller [20]byte, id [32]byte) (*big.Int, error) {
	if err := e.dependenciesReady(); err != nil {
		return nil, err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	if err := s.requireOperator(caller); err != nil {
		return nil, err
	}
	if s.State != SaleInUse {
		return nil, ErrSaleNotActive
	}
	if e.now() < s.Config.EndTime {
		return nil, ErrNotEnded
	}
	if s.TotalRaised.Cmp(s.Config.SoftCap) >= 0 {
		return nil, ErrSoftCapReached
	}
	balance, err := e.ledger.BalanceOf(s.Config.Token, s.Address)
	if err != nil {
		return nil, err
	}
	if balance.Sign() > 0 {
		if err := e.ledger.Transfer(s.Config.Token, s.Address, s.Config.Owner, balance); err != nil {
			return nil, err
		}
	}
	e.emit(newSaleEvent(EventTypeSaleLeftoverSwept, s, map[string]string{"amount": balance.String()}))
	return balance, nil
}

// WithdrawLiquidity unlocks the liquidity position once the locker's unlock
// time has passed and forwards the freed balance to the owner.
func (e *Engine) WithdrawLiquidity(caller [20]byte, id [32]byte) (*big.Int, error) {
	if err := e.dependenciesReady(); err != nil {
		return nil, err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	if err := s.requireOperator(caller); err != nil {
		return nil, err
	}
	if s.State != SaleCompleted {
		return nil, ErrNotFinalized
	}
	if strings.TrimSpace(s.LiquidityLockID) == "" {
		return nil, ErrNoLiquidityLock
	}
	if err := e.locker.Unlock(s.LiquidityLockID, s.Address); err != nil {
		return nil, err
	}
	balance, err := e.ledger.BalanceOf(s.LiquidityPair, s.Address)
	if err != nil {
		return nil, err
	}
	if balance.Sign() > 0 {
		if err := e.ledger.Transfer(s.LiquidityPair, s.Address, s.Config.Owner, balance); err != nil {
			return nil, err
		}
	}
	e.emit(newSaleEvent(EventTypeSaleLiquidityFreed, s, map[string]string{"amount": balance.String()}))
	return balance, nil
}

// EmergencyWithdrawToken moves an arbitrary token balance held by the sale to
// a destination of governance's choosing. The liquidity pair token is refused;
// it must leave through WithdrawLiquidity. This is an intentional trust
// concession to the governance role.
func (e *Engine) EmergencyWithdrawToken(caller [20]byte, id [32]byte, token, to [20]byte, amount *big.Int) error {
	if err := e.dependenciesReady(); err != nil {
		return err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := s.requireGovernance(caller); err != nil {
		return err
	}
	if token == s.LiquidityPair && s.LiquidityPair != ([20]byte{}) {
		return ErrPairTokenRescue
	}
	amount = cloneBigInt(amount)
	if amount.Sign() <= 0 {
		return ErrZeroContribution
	}
	if err := e.ledger.Transfer(token, s.Address, to, amount); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleEmergencyRescue, s, map[string]string{"amount": amount.String()}))
	return nil
}

// EmergencyWithdrawCurrency moves base currency held by the sale to a
// destination of governance's choosing.
func (e *Engine) EmergencyWithdrawCurrency(caller [20]byte, id [32]byte, to [20]byte, amount *big.Int) error {
	if err := e.dependenciesReady(); err != nil {
		return err
	}
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := s.requireGovernance(caller); err != nil {
		return err
	}
	amount = cloneBigInt(amount)
	if amount.Sign() <= 0 {
		return ErrZeroContribution
	}
	if err := e.currency.Send(s.Address, to, amount); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleEmergencyRescue, s, map[string]string{"amount": amount.String()}))
	return nil
}
