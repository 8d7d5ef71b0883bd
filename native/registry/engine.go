// Package registry creates sale instances, funds them with the required token
// amount, collects the flat creation fee and keeps the reverse indexes: a
// newest-first listing of sales and the set of sales each participant joined.
package registry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"launchpool/core/events"
	"launchpool/native/sale"
)

var (
	ErrTokenReserved     = errors.New("registry: token already has a live sale")
	ErrInsufficientFunds = errors.New("registry: creator balance below token requirement")
	errNilSaleEngine     = errors.New("registry: sale engine not configured")
	errNilLedger         = errors.New("registry: ledger not configured")
	errNilCurrency       = errors.New("registry: currency transfer not configured")
	errNilSaleSource     = errors.New("registry: sale source not configured")
)

const (
	EventTypePoolCreated  = "registry.pool_created"
	EventTypePoolRemoved  = "registry.pool_removed"
	EventTypeMemberJoined = "registry.member_joined"
)

type tokenLedger interface {
	Transfer(token, from, to [20]byte, amount *big.Int) error
	BalanceOf(token, account [20]byte) (*big.Int, error)
}

type currencyMover interface {
	Send(from, to [20]byte, amount *big.Int) error
}

// CreatePoolParams is the caller-facing creation surface. Fee percentages and
// the governance identity are supplied by the registry, never by the caller.
type CreatePoolParams struct {
	Token                [20]byte
	Router               [20]byte
	Rate                 *big.Int
	ListingRate          *big.Int
	MinContribution      *big.Int
	MaxContribution      *big.Int
	SoftCap              *big.Int
	HardCap              *big.Int
	StartTime            int64
	EndTime              int64
	LiquidityLockSeconds int64
	LiquidityPct         uint64
	RefundPolicy         sale.RefundPolicy
	WhitelistEnabled     bool
	Details              string
	Vesting              sale.VestingSchedule
	TeamVesting          *sale.TeamVesting
}

// Engine is the sale factory and membership index.
type Engine struct {
	mu sync.Mutex

	sales    *sale.Engine
	ledger   tokenLedger
	currency currencyMover
	emitter  events.Emitter

	address        [20]byte
	feeRecipient   [20]byte
	creationFee    *big.Int
	currencyFeePct uint64
	tokenFeePct    uint64

	pools       [][32]byte
	poolByToken map[[20]byte][32]byte
	userPools   map[[20]byte][][32]byte
	userSeen    map[[20]byte]map[[32]byte]bool
	feePaid     map[[20]byte]bool
}

// NewEngine constructs a registry bound to its platform identities: address
// is the registry's own ledger identity (authorised for team vesting setup),
// feeRecipient doubles as the governance identity injected into every sale.
func NewEngine(address, feeRecipient [20]byte, creationFee *big.Int, currencyFeePct, tokenFeePct uint64) *Engine {
	if creationFee == nil {
		creationFee = big.NewInt(0)
	}
	return &Engine{
		emitter:        events.NoopEmitter{},
		address:        address,
		feeRecipient:   feeRecipient,
		creationFee:    new(big.Int).Set(creationFee),
		currencyFeePct: currencyFeePct,
		tokenFeePct:    tokenFeePct,
		poolByToken:    make(map[[20]byte][32]byte),
		userPools:      make(map[[20]byte][][32]byte),
		userSeen:       make(map[[20]byte]map[[32]byte]bool),
		feePaid:        make(map[[20]byte]bool),
	}
}

// SetSaleEngine wires the sale engine used to initialise new sales.
func (r *Engine) SetSaleEngine(engine *sale.Engine) { r.sales = engine }

// SetLedger configures the token ledger.
func (r *Engine) SetLedger(ledger tokenLedger) { r.ledger = ledger }

// SetCurrency configures the base-currency mover.
func (r *Engine) SetCurrency(currency currencyMover) { r.currency = currency }

// SetEmitter configures the event emitter used by the registry.
func (r *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Address returns the registry's ledger identity.
func (r *Engine) Address() [20]byte { return r.address }

func (r *Engine) emit(evt *events.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}

// TokenRequirement computes the total token amount a creator must escrow for
// the given parameters: the full hard-cap allocation, the token fee on it and
// the liquidity leg at the listing rate, plus any team vesting total.
func (r *Engine) TokenRequirement(p *CreatePoolParams) (*big.Int, error) {
	tokensForSale, err := sale.Convert(p.HardCap, p.Rate)
	if err != nil {
		return nil, err
	}
	split, err := sale.FeeAndLiquidity(p.HardCap, r.currencyFeePct, r.tokenFeePct,
		tokensForSale, p.LiquidityPct, p.ListingRate)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Add(tokensForSale, split.TokenFee)
	required.Add(required, split.LiquidityToken)
	if p.TeamVesting != nil && p.TeamVesting.Total != nil {
		required.Add(required, p.TeamVesting.Total)
	}
	return required, nil
}

// CreatePool validates the parameters, initialises the sale, escrows the
// token requirement into it and collects the flat creation fee (once per
// distinct token), recording the sale newest-first. No funds move before the
// configuration has passed the sale engine's validation, and a funding
// failure discards the half-created sale so nothing of it survives.
func (r *Engine) CreatePool(caller [20]byte, params CreatePoolParams) (*sale.Sale, error) {
	if r == nil || r.sales == nil {
		return nil, errNilSaleEngine
	}
	if r.ledger == nil {
		return nil, errNilLedger
	}
	if r.currency == nil {
		return nil, errNilCurrency
	}
	cfg := sale.SaleConfig{
		Token:                params.Token,
		Router:               params.Router,
		Owner:                caller,
		Governance:           r.feeRecipient,
		Rate:                 params.Rate,
		ListingRate:          params.ListingRate,
		MinContribution:      params.MinContribution,
		MaxContribution:      params.MaxContribution,
		SoftCap:              params.SoftCap,
		HardCap:              params.HardCap,
		StartTime:            params.StartTime,
		EndTime:              params.EndTime,
		LiquidityLockSeconds: params.LiquidityLockSeconds,
		CurrencyFeePct:       r.currencyFeePct,
		TokenFeePct:          r.tokenFeePct,
		LiquidityPct:         params.LiquidityPct,
		RefundPolicy:         params.RefundPolicy,
		WhitelistEnabled:     params.WhitelistEnabled,
		Details:              params.Details,
		Vesting:              params.Vesting,
	}
	if params.TeamVesting != nil {
		if err := sale.SanitizeTeamVesting(params.TeamVesting); err != nil {
			return nil, err
		}
	}
	required, err := r.TokenRequirement(&params)
	if err != nil {
		return nil, err
	}
	balance, err := r.ledger.BalanceOf(params.Token, caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(required) < 0 {
		return nil, ErrInsufficientFunds
	}

	// Reserve the token before any fund movement so a concurrent creation for
	// the same token is rejected up front. The placeholder is replaced by the
	// sale identifier on success and released on any failure.
	r.mu.Lock()
	if _, reserved := r.poolByToken[params.Token]; reserved {
		r.mu.Unlock()
		return nil, ErrTokenReserved
	}
	r.poolByToken[params.Token] = [32]byte{}
	feeDue := r.creationFee.Sign() > 0 && !r.feePaid[params.Token]
	r.mu.Unlock()

	s, err := r.sales.Initialize(cfg)
	if err != nil {
		r.releaseReservation(params.Token)
		return nil, err
	}
	if err := r.fund(caller, s, params, required, feeDue); err != nil {
		r.releaseReservation(params.Token)
		// Best effort; the funding failure is what the caller sees.
		_ = r.sales.Discard(r.address, s.ID)
		return nil, err
	}

	r.mu.Lock()
	r.pools = append([][32]byte{s.ID}, r.pools...)
	r.poolByToken[params.Token] = s.ID
	if feeDue {
		r.feePaid[params.Token] = true
	}
	r.mu.Unlock()
	r.emit(&events.Event{Type: EventTypePoolCreated, Attributes: map[string]string{
		"saleId":   hex.EncodeToString(s.ID[:]),
		"token":    hex.EncodeToString(params.Token[:]),
		"owner":    hex.EncodeToString(caller[:]),
		"required": required.String(),
	}})
	return s, nil
}

// fund moves the creation funds in order: token escrow, flat fee, team
// vesting. The fee is refunded when a later step fails so a rejected creation
// never retains it.
func (r *Engine) fund(caller [20]byte, s *sale.Sale, params CreatePoolParams, required *big.Int, feeDue bool) error {
	if err := r.ledger.Transfer(params.Token, caller, s.Address, required); err != nil {
		return err
	}
	if feeDue {
		if err := r.currency.Send(caller, r.feeRecipient, r.creationFee); err != nil {
			return err
		}
	}
	if params.TeamVesting != nil {
		if err := r.sales.InitializeVesting(r.address, s.ID, *params.TeamVesting); err != nil {
			if feeDue {
				_ = r.currency.Send(r.feeRecipient, caller, r.creationFee)
			}
			return err
		}
	}
	return nil
}

func (r *Engine) releaseReservation(token [20]byte) {
	r.mu.Lock()
	delete(r.poolByToken, token)
	r.mu.Unlock()
}

// saleSource is the persisted-record surface the registry rebuilds from.
type saleSource interface {
	IDs() [][32]byte
	SaleGet(id [32]byte) (*sale.Sale, bool)
}

// Restore rebuilds the newest-first listing, the token reservations, the
// fee-paid records and the participant memberships from persisted sales.
// A record only exists for a creation that completed, so its token's flat fee
// is settled. Call once at startup, before serving traffic.
func (r *Engine) Restore(source saleSource) error {
	if source == nil {
		return errNilSaleSource
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range source.IDs() {
		s, ok := source.SaleGet(id)
		if !ok {
			return fmt.Errorf("registry: missing sale record %s", hex.EncodeToString(id[:]))
		}
		r.pools = append([][32]byte{s.ID}, r.pools...)
		r.feePaid[s.Config.Token] = true
		if s.State == sale.SaleInUse {
			r.poolByToken[s.Config.Token] = s.ID
		}
		for _, participant := range s.Participants {
			r.recordMembershipLocked(participant, s.ID)
		}
	}
	return nil
}

// RecordContribution notes the participant's membership in the sale. It is
// idempotent; a second contribution to the same sale is a no-op here.
func (r *Engine) RecordContribution(participant [20]byte, saleID [32]byte) error {
	r.mu.Lock()
	recorded := r.recordMembershipLocked(participant, saleID)
	r.mu.Unlock()
	if recorded {
		r.emit(&events.Event{Type: EventTypeMemberJoined, Attributes: map[string]string{
			"saleId":      hex.EncodeToString(saleID[:]),
			"participant": hex.EncodeToString(participant[:]),
		}})
	}
	return nil
}

func (r *Engine) recordMembershipLocked(participant [20]byte, saleID [32]byte) bool {
	seen := r.userSeen[participant]
	if seen == nil {
		seen = make(map[[32]byte]bool)
		r.userSeen[participant] = seen
	}
	if seen[saleID] {
		return false
	}
	seen[saleID] = true
	r.userPools[participant] = append(r.userPools[participant], saleID)
	return true
}

// RemovePoolForToken releases the one-live-sale-per-token reservation when a
// sale is cancelled, allowing the token to launch again.
func (r *Engine) RemovePoolForToken(token [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.poolByToken[token]
	if !ok {
		return nil
	}
	delete(r.poolByToken, token)
	r.emit(&events.Event{Type: EventTypePoolRemoved, Attributes: map[string]string{
		"saleId": hex.EncodeToString(id[:]),
		"token":  hex.EncodeToString(token[:]),
	}})
	return nil
}

// Pools returns a page of sale identifiers, newest first.
func (r *Engine) Pools(offset, limit int) [][32]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset < 0 || offset >= len(r.pools) {
		return nil
	}
	end := len(r.pools)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([][32]byte(nil), r.pools[offset:end]...)
}

// PoolsOf returns the sales the participant has contributed to, in join order.
func (r *Engine) PoolsOf(participant [20]byte) [][32]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][32]byte(nil), r.userPools[participant]...)
}

// PoolForToken returns the live sale reserved for the token, if any.
func (r *Engine) PoolForToken(token [20]byte) ([32]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.poolByToken[token]
	return id, ok
}
