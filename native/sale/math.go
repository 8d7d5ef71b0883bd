package sale

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// RateScale is the fixed-point scale shared by the sale rate and the listing
// rate: a rate of 3e18 sells three token units per currency unit.
var RateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	// ErrOverflow marks an intermediate product that does not fit in 256
	// bits. It is never a normal outcome for a valid configuration.
	ErrOverflow       = errors.New("sale: arithmetic overflow")
	errNegativeAmount = errors.New("sale: negative amount")
)

var oneHundred = big.NewInt(100)

// checkedMul multiplies a×b and rejects results wider than 256 bits.
func checkedMul(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return nil, errNegativeAmount
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, errNegativeAmount
	}
	product := new(big.Int).Mul(a, b)
	if _, overflow := uint256.FromBig(product); overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// checkedAdd adds a+b and rejects results wider than 256 bits.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return nil, errNegativeAmount
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, errNegativeAmount
	}
	sum := new(big.Int).Add(a, b)
	if _, overflow := uint256.FromBig(sum); overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// percentOf computes amount×pct/100 with truncating division.
func percentOf(amount *big.Int, pct uint64) (*big.Int, error) {
	product, err := checkedMul(amount, new(big.Int).SetUint64(pct))
	if err != nil {
		return nil, err
	}
	return product.Div(product, oneHundred), nil
}

// Convert translates a base-currency amount into token units at the given
// fixed-point rate. Division truncates toward zero.
func Convert(amount, rate *big.Int) (*big.Int, error) {
	product, err := checkedMul(amount, rate)
	if err != nil {
		return nil, err
	}
	return product.Div(product, RateScale), nil
}

// FeeBreakdown is the finalization split produced by FeeAndLiquidity.
type FeeBreakdown struct {
	CurrencyFee       *big.Int
	TokenFee          *big.Int
	LiquidityCurrency *big.Int
	LiquidityToken    *big.Int
}

// FeeAndLiquidity computes the platform fees and the liquidity legs seeded at
// finalization. Every division truncates; residual dust is swept to the owner
// by the finalize leftover pass rather than redistributed here.
func FeeAndLiquidity(totalRaised *big.Int, currencyFeePct, tokenFeePct uint64, totalVolumePurchased *big.Int, liquidityPct uint64, listingRate *big.Int) (*FeeBreakdown, error) {
	currencyFee, err := percentOf(totalRaised, currencyFeePct)
	if err != nil {
		return nil, err
	}
	tokenFee, err := percentOf(totalVolumePurchased, tokenFeePct)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(cloneBigInt(totalRaised), currencyFee)
	liquidityCurrency, err := percentOf(remaining, liquidityPct)
	if err != nil {
		return nil, err
	}
	liquidityToken, err := Convert(liquidityCurrency, listingRate)
	if err != nil {
		return nil, err
	}
	return &FeeBreakdown{
		CurrencyFee:       currencyFee,
		TokenFee:          tokenFee,
		LiquidityCurrency: liquidityCurrency,
		LiquidityToken:    liquidityToken,
	}, nil
}

// AllocationHint suggests the currency range a participant may still
// contribute. It is a read-only UI convenience, not an enforcement path; the
// admission checks in Contribute are authoritative.
func AllocationHint(contributed, minContribution, maxContribution, availableToBuy *big.Int) (*big.Int, *big.Int) {
	contributed = cloneBigInt(contributed)
	minContribution = cloneBigInt(minContribution)
	maxContribution = cloneBigInt(maxContribution)
	availableToBuy = cloneBigInt(availableToBuy)

	zero := big.NewInt(0)
	if contributed.Cmp(maxContribution) >= 0 {
		return zero, big.NewInt(0)
	}
	remaining := new(big.Int).Sub(maxContribution, contributed)
	if availableToBuy.Cmp(remaining) > 0 {
		if contributed.Sign() > 0 {
			return zero, remaining
		}
		return minContribution, remaining
	}
	if contributed.Sign() > 0 {
		return zero, availableToBuy
	}
	if availableToBuy.Cmp(minContribution) < 0 {
		return zero, availableToBuy
	}
	return minContribution, availableToBuy
}
