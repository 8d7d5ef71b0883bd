// Package ledger provides the in-process fungible-token and base-currency
// accounting used by the sale engine, registry, router and vault. Every movement is
// balance-checked and fails explicitly; nothing is ever silently swallowed.
package ledger

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
)

// Ledger is a thread-safe account store keyed by token and address.
type Ledger struct {
	mu         sync.RWMutex
	currency   map[[20]byte]*big.Int
	tokens     map[[20]byte]map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]map[[20]byte]*big.Int
	supply     map[[20]byte]*big.Int
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		currency:   make(map[[20]byte]*big.Int),
		tokens:     make(map[[20]byte]map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]map[[20]byte]*big.Int),
		supply:     make(map[[20]byte]*big.Int),
	}
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (l *Ledger) tokenBalance(token, account [20]byte) *big.Int {
	balances, ok := l.tokens[token]
	if !ok {
		return big.NewInt(0)
	}
	return clone(balances[account])
}

func (l *Ledger) setTokenBalance(token, account [20]byte, value *big.Int) {
	balances, ok := l.tokens[token]
	if !ok {
		balances = make(map[[20]byte]*big.Int)
		l.tokens[token] = balances
	}
	balances[account] = value
}

// MintToken credits newly issued token units to an account.
func (l *Ledger) MintToken(token, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setTokenBalance(token, to, new(big.Int).Add(l.tokenBalance(token, to), amount))
	l.supply[token] = new(big.Int).Add(clone(l.supply[token]), amount)
	return nil
}

// MintCurrency credits base currency to an account.
func (l *Ledger) MintCurrency(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currency[to] = new(big.Int).Add(clone(l.currency[to]), amount)
	return nil
}

// Transfer moves token units between accounts.
func (l *Ledger) Transfer(token, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(token, from, to, amount)
}

func (l *Ledger) transferLocked(token, from, to [20]byte, amount *big.Int) error {
	fromBalance := l.tokenBalance(token, from)
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setTokenBalance(token, from, fromBalance.Sub(fromBalance, amount))
	l.setTokenBalance(token, to, new(big.Int).Add(l.tokenBalance(token, to), amount))
	return nil
}

// Approve grants the spender an allowance over the owner's token balance.
func (l *Ledger) Approve(token, owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	owners, ok := l.allowances[token]
	if !ok {
		owners = make(map[[20]byte]map[[20]byte]*big.Int)
		l.allowances[token] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[[20]byte]*big.Int)
		owners[owner] = spenders
	}
	spenders[spender] = clone(amount)
	return nil
}

// Allowance reports the remaining allowance granted by owner to spender.
func (l *Ledger) Allowance(token, owner, spender [20]byte) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owners, ok := l.allowances[token]
	if !ok {
		return big.NewInt(0)
	}
	spenders, ok := owners[owner]
	if !ok {
		return big.NewInt(0)
	}
	return clone(spenders[spender])
}

// TransferFrom moves token units out of an owner's account against a
// previously granted allowance, decrementing the allowance by the amount.
func (l *Ledger) TransferFrom(token, spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	owners := l.allowances[token]
	if owners == nil || owners[from] == nil || owners[from][spender] == nil {
		return ErrInsufficientAllowance
	}
	allowance := owners[from][spender]
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.transferLocked(token, from, to, amount); err != nil {
		return err
	}
	owners[from][spender] = new(big.Int).Sub(allowance, amount)
	return nil
}

// BalanceOf reports the token balance of an account.
func (l *Ledger) BalanceOf(token, account [20]byte) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tokenBalance(token, account), nil
}

// TotalSupply reports the minted supply of a token net of burns.
func (l *Ledger) TotalSupply(token [20]byte) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clone(l.supply[token])
}

// Burn destroys token units held by an account.
func (l *Ledger) Burn(token, from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.tokenBalance(token, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setTokenBalance(token, from, balance.Sub(balance, amount))
	l.supply[token] = new(big.Int).Sub(clone(l.supply[token]), amount)
	return nil
}

// Currency exposes the base-currency view of the ledger.
func (l *Ledger) Currency() *Currency { return &Currency{ledger: l} }

// Currency is the base-currency transfer view backed by a Ledger.
type Currency struct {
	ledger *Ledger
}

// Send moves base currency between accounts.
func (c *Currency) Send(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance := clone(l.currency[from])
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.currency[from] = fromBalance.Sub(fromBalance, amount)
	l.currency[to] = new(big.Int).Add(clone(l.currency[to]), amount)
	return nil
}

// BalanceOf reports the base-currency balance of an account.
func (c *Currency) BalanceOf(account [20]byte) (*big.Int, error) {
	l := c.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clone(l.currency[account]), nil
}
