package sale

import "math/big"

// SaleInfo returns a deep copy of the full sale state.
func (e *Engine) SaleInfo(id [32]byte) (*Sale, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// ContributionOf returns the participant's accounting record, or an empty
// record if the participant never contributed.
func (e *Engine) ContributionOf(id [32]byte, participant [20]byte) (*ContributionRecord, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	rec := s.Contributions[participant]
	if rec == nil {
		return &ContributionRecord{
			Contributed: big.NewInt(0),
			Purchased:   big.NewInt(0),
			Claimed:     big.NewInt(0),
			Refunded:    big.NewInt(0),
		}, nil
	}
	return rec.Clone(), nil
}

// AllocationHintOf suggests the contribution range still open to the
// participant given the remaining hard-cap headroom.
func (e *Engine) AllocationHintOf(id [32]byte, participant [20]byte) (*big.Int, *big.Int, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return nil, nil, err
	}
	contributed := big.NewInt(0)
	if rec := s.Contributions[participant]; rec != nil {
		contributed = rec.Contributed
	}
	available := new(big.Int).Sub(s.Config.HardCap, s.TotalRaised)
	lo, hi := AllocationHint(contributed, s.Config.MinContribution, s.Config.MaxContribution, available)
	return lo, hi, nil
}

// IsWhitelisted reports whitelist membership for the participant.
func (e *Engine) IsWhitelisted(id [32]byte, participant [20]byte) (bool, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return false, err
	}
	return s.Whitelist[participant], nil
}

// WhitelistedAddresses lists the admitted identities in admission order.
func (e *Engine) WhitelistedAddresses(id [32]byte) ([][20]byte, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	return append([][20]byte(nil), s.WhitelistOrder...), nil
}

// LiquidityBalance reports the liquidity-position tokens currently held by
// the sale. Zero before finalization.
func (e *Engine) LiquidityBalance(id [32]byte) (*big.Int, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	if s.LiquidityPair == ([20]byte{}) {
		return big.NewInt(0), nil
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	return e.ledger.BalanceOf(s.LiquidityPair, s.Address)
}

// TeamWithdrawable reports how much of the team escrow the locker would
// release right now.
func (e *Engine) TeamWithdrawable(id [32]byte) (*big.Int, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	if !s.Team.Configured {
		return big.NewInt(0), nil
	}
	if e.locker == nil {
		return nil, errNilLocker
	}
	return e.locker.WithdrawableTokens(s.Team.LockID)
}
