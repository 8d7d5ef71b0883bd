// Package locker implements the token time-lock vault: plain locks
// that release in full at an unlock time, and vesting locks that release a
// first tranche after a delay followed by a fixed percentage per cycle.
package locker

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLockNotFound   = errors.New("locker: lock not found")
	ErrNotLockOwner   = errors.New("locker: caller is not the lock owner")
	ErrStillLocked    = errors.New("locker: unlock time not reached")
	ErrNothingVested  = errors.New("locker: nothing withdrawable")
	ErrInvalidAmount  = errors.New("locker: amount must be positive")
	ErrInvalidPeriod  = errors.New("locker: vesting period must be positive")
	ErrInvalidPct     = errors.New("locker: percentage out of range")
	errNilLedger      = errors.New("locker: ledger not configured")
	errVaultUnderflow = errors.New("locker: vault balance underflow")
)

var oneHundred = big.NewInt(100)

type tokenMover interface {
	Transfer(token, from, to [20]byte, amount *big.Int) error
}

// Lock is a single vault entry. Plain locks release the full amount once
// UnlockTime passes; vesting locks release incrementally from CreatedAt+Delay.
type Lock struct {
	ID         string
	Owner      [20]byte
	Token      [20]byte
	IsLP       bool
	Amount     *big.Int
	Withdrawn  *big.Int
	UnlockTime int64
	Vesting    bool
	Delay      int64
	FirstPct   uint64
	Period     int64
	CyclePct   uint64
	CreatedAt  int64
	Label      string
}

// Clone returns a deep copy of the lock.
func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Amount = new(big.Int).Set(l.Amount)
	clone.Withdrawn = new(big.Int).Set(l.Withdrawn)
	return &clone
}

// Vault is the locker engine. Locked balances live at the vault address on
// the shared ledger; the vault releases them according to each lock's terms.
type Vault struct {
	mu      sync.Mutex
	ledger  tokenMover
	address [20]byte
	locks   map[string]*Lock
	nowFn   func() int64
}

// NewVault constructs a vault holding funds at the given ledger address.
func NewVault(address [20]byte, ledger tokenMover) *Vault {
	return &Vault{
		ledger:  ledger,
		address: address,
		locks:   make(map[string]*Lock),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, for deterministic tests.
func (v *Vault) SetNowFunc(now func() int64) {
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

// Address returns the ledger address holding all locked balances.
func (v *Vault) Address() [20]byte { return v.address }

// Lock escrows amount of token pulled from the funding address until
// unlockTime, returning the opaque lock identifier.
func (v *Vault) Lock(owner, from, token [20]byte, isLP bool, amount *big.Int, unlockTime int64, label string) (string, error) {
	if v == nil || v.ledger == nil {
		return "", errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ledger.Transfer(token, from, v.address, amount); err != nil {
		return "", err
	}
	lock := &Lock{
		ID:         uuid.NewString(),
		Owner:      owner,
		Token:      token,
		IsLP:       isLP,
		Amount:     new(big.Int).Set(amount),
		Withdrawn:  big.NewInt(0),
		UnlockTime: unlockTime,
		CreatedAt:  v.nowFn(),
		Label:      strings.TrimSpace(label),
	}
	v.locks[lock.ID] = lock
	return lock.ID, nil
}

// VestingLock escrows amount with an incremental release schedule: firstPct
// becomes withdrawable delay seconds after creation, then cyclePct more per
// completed period.
func (v *Vault) VestingLock(owner, from, token [20]byte, isLP bool, amount *big.Int, delay int64, firstPct uint64, period int64, cyclePct uint64, label string) (string, error) {
	if v == nil || v.ledger == nil {
		return "", errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if firstPct > 100 || cyclePct > 100 {
		return "", ErrInvalidPct
	}
	if cyclePct > 0 && period <= 0 {
		return "", ErrInvalidPeriod
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ledger.Transfer(token, from, v.address, amount); err != nil {
		return "", err
	}
	now := v.nowFn()
	lock := &Lock{
		ID:        uuid.NewString(),
		Owner:     owner,
		Token:     token,
		IsLP:      isLP,
		Amount:    new(big.Int).Set(amount),
		Withdrawn: big.NewInt(0),
		Vesting:   true,
		Delay:     delay,
		FirstPct:  firstPct,
		Period:    period,
		CyclePct:  cyclePct,
		CreatedAt: now,
		Label:     strings.TrimSpace(label),
	}
	v.locks[lock.ID] = lock
	return lock.ID, nil
}

func (v *Vault) withdrawableLocked(lock *Lock, now int64) *big.Int {
	if !lock.Vesting {
		if now < lock.UnlockTime {
			return big.NewInt(0)
		}
		return new(big.Int).Sub(lock.Amount, lock.Withdrawn)
	}
	start := lock.CreatedAt + lock.Delay
	if now < start {
		return big.NewInt(0)
	}
	vested := new(big.Int).Mul(lock.Amount, new(big.Int).SetUint64(lock.FirstPct))
	vested.Div(vested, oneHundred)
	if lock.Period > 0 && lock.CyclePct > 0 {
		cycles := (now - start) / lock.Period
		perCycle := new(big.Int).Mul(lock.Amount, new(big.Int).SetUint64(lock.CyclePct))
		perCycle.Div(perCycle, oneHundred)
		vested.Add(vested, perCycle.Mul(perCycle, big.NewInt(cycles)))
	}
	if vested.Cmp(lock.Amount) > 0 {
		vested.Set(lock.Amount)
	}
	due := vested.Sub(vested, lock.Withdrawn)
	if due.Sign() < 0 {
		due.SetInt64(0)
	}
	return due
}

// WithdrawableTokens reports the amount the lock would release right now.
func (v *Vault) WithdrawableTokens(lockID string) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[lockID]
	if !ok {
		return nil, ErrLockNotFound
	}
	return v.withdrawableLocked(lock, v.nowFn()), nil
}

// Unlock releases the currently withdrawable balance to the lock owner. Plain
// locks release everything in one shot once the unlock time has passed;
// vesting locks release incrementally and may be called repeatedly.
func (v *Vault) Unlock(lockID string, caller [20]byte) error {
	if v == nil || v.ledger == nil {
		return errNilLedger
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[lockID]
	if !ok {
		return ErrLockNotFound
	}
	if caller != lock.Owner {
		return ErrNotLockOwner
	}
	now := v.nowFn()
	if !lock.Vesting && now < lock.UnlockTime {
		return ErrStillLocked
	}
	due := v.withdrawableLocked(lock, now)
	if due.Sign() <= 0 {
		return ErrNothingVested
	}
	remaining := new(big.Int).Sub(lock.Amount, lock.Withdrawn)
	if due.Cmp(remaining) > 0 {
		return errVaultUnderflow
	}
	if err := v.ledger.Transfer(lock.Token, v.address, lock.Owner, due); err != nil {
		return err
	}
	lock.Withdrawn = new(big.Int).Add(lock.Withdrawn, due)
	return nil
}

// Get returns a copy of the lock record.
func (v *Vault) Get(lockID string) (*Lock, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[lockID]
	if !ok {
		return nil, false
	}
	return lock.Clone(), true
}
