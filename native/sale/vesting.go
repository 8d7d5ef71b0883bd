package sale

import "math/big"

// Vested computes the cumulative amount of a purchase released by the schedule
// after elapsed seconds measured from the frozen sale end. The result is
// clamped to the purchased amount: the linear per-cycle term may nominally
// exceed 100% for large elapsed/period ratios and the clamp is the backstop.
func (v VestingSchedule) Vested(purchased *big.Int, elapsed int64) (*big.Int, error) {
	purchased = cloneBigInt(purchased)
	if purchased.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if v.Zero() {
		return purchased, nil
	}
	if elapsed < 0 {
		elapsed = 0
	}
	target, err := percentOf(purchased, v.FirstReleasePct)
	if err != nil {
		return nil, err
	}
	if v.Period > 0 && v.CyclePct > 0 {
		cycles := elapsed / v.Period
		perCycle, err := percentOf(purchased, v.CyclePct)
		if err != nil {
			return nil, err
		}
		linear, err := checkedMul(perCycle, big.NewInt(cycles))
		if err != nil {
			return nil, err
		}
		target, err = checkedAdd(target, linear)
		if err != nil {
			return nil, err
		}
	}
	if target.Cmp(purchased) > 0 {
		target = purchased
	}
	return target, nil
}

// Claimable returns the amount newly releasable given what was already
// claimed. Callers advance the claimed counter by exactly the transferred
// amount, never by re-deriving it from the target.
func (v VestingSchedule) Claimable(purchased, claimed *big.Int, elapsed int64) (*big.Int, error) {
	target, err := v.Vested(purchased, elapsed)
	if err != nil {
		return nil, err
	}
	due := new(big.Int).Sub(target, cloneBigInt(claimed))
	if due.Sign() < 0 {
		due.SetInt64(0)
	}
	return due, nil
}
