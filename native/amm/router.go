// Package amm seeds post-sale liquidity: a single-pair
// constant-product venue that accepts both legs of a listing and mints
// liquidity-position tokens against them.
package amm

import (
	"errors"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidAmount = errors.New("amm: amounts must be positive")
	errNilLedger     = errors.New("amm: ledger not configured")
)

type tokenLedger interface {
	Transfer(token, from, to [20]byte, amount *big.Int) error
	MintToken(token, to [20]byte, amount *big.Int) error
}

type currencyMover interface {
	Send(from, to [20]byte, amount *big.Int) error
}

type pair struct {
	address         [20]byte
	reserveCurrency *big.Int
	reserveToken    *big.Int
	lpSupply        *big.Int
}

// Router registers token/base-currency pairs and seeds liquidity into them.
// The liquidity-position token shares the pair's address on the ledger.
type Router struct {
	mu       sync.Mutex
	ledger   tokenLedger
	currency currencyMover
	pairs    map[[20]byte]*pair
}

// NewRouter constructs a router over the shared ledger.
func NewRouter(ledger tokenLedger, currency currencyMover) *Router {
	return &Router{
		ledger:   ledger,
		currency: currency,
		pairs:    make(map[[20]byte]*pair),
	}
}

// ResolvePair returns the deterministic pair identity for a token, creating
// the pair on first use.
func (r *Router) ResolvePair(token [20]byte) ([20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(token).address, nil
}

func (r *Router) resolveLocked(token [20]byte) *pair {
	if p, ok := r.pairs[token]; ok {
		return p
	}
	hash := ethcrypto.Keccak256(token[:], []byte("launchpool/pair"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	p := &pair{
		address:         addr,
		reserveCurrency: big.NewInt(0),
		reserveToken:    big.NewInt(0),
		lpSupply:        big.NewInt(0),
	}
	r.pairs[token] = p
	return p
}

// AddLiquidity pulls both legs from the funding address into the pair and
// mints liquidity-position tokens to the recipient. The first mint follows
// the geometric-mean rule; later mints are proportional to the smaller leg.
func (r *Router) AddLiquidity(token [20]byte, from, recipient [20]byte, currencyAmount, tokenAmount *big.Int) (*big.Int, error) {
	if r == nil || r.ledger == nil || r.currency == nil {
		return nil, errNilLedger
	}
	if currencyAmount == nil || currencyAmount.Sign() <= 0 || tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.resolveLocked(token)
	if err := r.currency.Send(from, p.address, currencyAmount); err != nil {
		return nil, err
	}
	if err := r.ledger.Transfer(token, from, p.address, tokenAmount); err != nil {
		return nil, err
	}
	var minted *big.Int
	if p.lpSupply.Sign() == 0 {
		minted = new(big.Int).Mul(currencyAmount, tokenAmount)
		minted.Sqrt(minted)
	} else {
		byCurrency := new(big.Int).Mul(currencyAmount, p.lpSupply)
		byCurrency.Div(byCurrency, p.reserveCurrency)
		byToken := new(big.Int).Mul(tokenAmount, p.lpSupply)
		byToken.Div(byToken, p.reserveToken)
		minted = byCurrency
		if byToken.Cmp(minted) < 0 {
			minted = byToken
		}
	}
	if minted.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := r.ledger.MintToken(p.address, recipient, minted); err != nil {
		return nil, err
	}
	p.reserveCurrency.Add(p.reserveCurrency, currencyAmount)
	p.reserveToken.Add(p.reserveToken, tokenAmount)
	p.lpSupply.Add(p.lpSupply, minted)
	return minted, nil
}

// Reserves reports the pair's current reserves and liquidity supply.
func (r *Router) Reserves(token [20]byte) (currency, tokens, lpSupply *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[token]
	if !ok {
		return big.NewInt(0), big.NewInt(0), big.NewInt(0)
	}
	return new(big.Int).Set(p.reserveCurrency), new(big.Int).Set(p.reserveToken), new(big.Int).Set(p.lpSupply)
}
