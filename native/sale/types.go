package sale

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SaleState represents the lifecycle states of a fundraising sale. SaleInUse
// is the initial state; SaleCompleted and SaleCancelled are terminal.
type SaleState uint8

const (
	SaleInUse SaleState = iota
	SaleCompleted
	SaleCancelled
)

// Valid reports whether the state value is within the supported range.
func (s SaleState) Valid() bool {
	switch s {
	case SaleInUse, SaleCompleted, SaleCancelled:
		return true
	default:
		return false
	}
}

func (s SaleState) String() string {
	switch s {
	case SaleInUse:
		return "in_use"
	case SaleCompleted:
		return "completed"
	case SaleCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RefundPolicy controls what happens to unsold tokens at finalization.
type RefundPolicy uint8

const (
	// RefundLeftover returns unsold tokens to the sale owner.
	RefundLeftover RefundPolicy = iota
	// BurnLeftover destroys unsold tokens instead of returning them.
	BurnLeftover
)

// Valid reports whether the policy value is within the supported range.
func (p RefundPolicy) Valid() bool {
	return p == RefundLeftover || p == BurnLeftover
}

// MinLiquidityLockSeconds is the floor applied to the liquidity lock duration.
// Kept short so integration configurations remain testable; production
// deployments are expected to configure days.
const MinLiquidityLockSeconds int64 = 300

// VestingSchedule describes how purchased tokens unlock for participants after
// the sale completes. The all-zero schedule means everything is claimable
// immediately on completion.
type VestingSchedule struct {
	FirstReleasePct uint64 `json:"firstReleasePct"`
	Period          int64  `json:"period"`
	CyclePct        uint64 `json:"cyclePct"`
}

// Zero reports whether the schedule is the degenerate immediate-release one.
func (v VestingSchedule) Zero() bool {
	return v.FirstReleasePct == 0 && v.Period == 0 && v.CyclePct == 0
}

// TeamVesting captures the one-time team allocation escrowed with the locker.
type TeamVesting struct {
	Total      *big.Int `json:"total"`
	Delay      int64    `json:"delay"`
	FirstPct   uint64   `json:"firstPct"`
	Period     int64    `json:"period"`
	CyclePct   uint64   `json:"cyclePct"`
	LockID     string   `json:"lockId"`
	Configured bool     `json:"configured"`
}

// SaleConfig holds the immutable parameters fixed at creation. Details is the
// only field that may be edited afterwards, and only before finalization.
type SaleConfig struct {
	Token                [20]byte
	Router               [20]byte
	Owner                [20]byte
	Governance           [20]byte
	Rate                 *big.Int
	ListingRate          *big.Int
	MinContribution      *big.Int
	MaxContribution      *big.Int
	SoftCap              *big.Int
	HardCap              *big.Int
	StartTime            int64
	EndTime              int64
	LiquidityLockSeconds int64
	CurrencyFeePct       uint64
	TokenFeePct          uint64
	LiquidityPct         uint64
	RefundPolicy         RefundPolicy
	WhitelistEnabled     bool
	Details              string
	Vesting              VestingSchedule
}

// ContributionRecord is the per-participant accounting entry. Refunded acts as
// the single-shot guard on the refund path: once set it never changes.
type ContributionRecord struct {
	Contributed *big.Int `json:"contributed"`
	Purchased   *big.Int `json:"purchased"`
	Claimed     *big.Int `json:"claimed"`
	Refunded    *big.Int `json:"refunded"`
}

// Clone returns a deep copy of the record.
func (c *ContributionRecord) Clone() *ContributionRecord {
	if c == nil {
		return nil
	}
	return &ContributionRecord{
		Contributed: cloneBigInt(c.Contributed),
		Purchased:   cloneBigInt(c.Purchased),
		Claimed:     cloneBigInt(c.Claimed),
		Refunded:    cloneBigInt(c.Refunded),
	}
}

// Sale is the full mutable state of one fundraising sale. The engine loads a
// clone, mutates it, and persists it only after every external step succeeded.
type Sale struct {
	ID        [32]byte
	Address   [20]byte
	Config    SaleConfig
	State     SaleState
	CreatedAt int64

	TotalRaised          *big.Int
	TotalVolumePurchased *big.Int
	TotalClaimed         *big.Int
	TotalRefunded        *big.Int

	Contributions map[[20]byte]*ContributionRecord
	Participants  [][20]byte

	Whitelist      map[[20]byte]bool
	WhitelistOrder [][20]byte
	PublicStart    int64

	FinalizedAt     int64
	LiquidityPair   [20]byte
	LiquidityLockID string

	Team TeamVesting
}

// Clone returns a deep copy of the sale so callers can safely mutate the copy
// without affecting the stored instance.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Config.Rate = cloneBigInt(s.Config.Rate)
	clone.Config.ListingRate = cloneBigInt(s.Config.ListingRate)
	clone.Config.MinContribution = cloneBigInt(s.Config.MinContribution)
	clone.Config.MaxContribution = cloneBigInt(s.Config.MaxContribution)
	clone.Config.SoftCap = cloneBigInt(s.Config.SoftCap)
	clone.Config.HardCap = cloneBigInt(s.Config.HardCap)
	clone.TotalRaised = cloneBigInt(s.TotalRaised)
	clone.TotalVolumePurchased = cloneBigInt(s.TotalVolumePurchased)
	clone.TotalClaimed = cloneBigInt(s.TotalClaimed)
	clone.TotalRefunded = cloneBigInt(s.TotalRefunded)
	clone.Contributions = make(map[[20]byte]*ContributionRecord, len(s.Contributions))
	for addr, rec := range s.Contributions {
		clone.Contributions[addr] = rec.Clone()
	}
	clone.Participants = append([][20]byte(nil), s.Participants...)
	clone.Whitelist = make(map[[20]byte]bool, len(s.Whitelist))
	for addr, ok := range s.Whitelist {
		clone.Whitelist[addr] = ok
	}
	clone.WhitelistOrder = append([][20]byte(nil), s.WhitelistOrder...)
	clone.Team.Total = cloneBigInt(s.Team.Total)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// DeriveID computes the deterministic sale identifier from the creator, the
// token under sale and the creation timestamp.
func DeriveID(owner, token [20]byte, createdAt int64) [32]byte {
	nonce := big.NewInt(createdAt)
	return ethcrypto.Keccak256Hash(owner[:], token[:], nonce.Bytes())
}

// DeriveAddress maps a sale identifier to the funds address the sale controls
// on the ledger.
func DeriveAddress(id [32]byte) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256(id[:])
	copy(addr[:], hash[12:])
	return addr
}

var (
	ErrInvalidConfig = errors.New("sale: invalid configuration")
)

// SanitizeConfig validates the creation parameters against the admission rules
// fixed by the platform. now is the creation instant.
func SanitizeConfig(cfg *SaleConfig, now int64) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if cfg.Token == ([20]byte{}) {
		return fmt.Errorf("%w: token required", ErrInvalidConfig)
	}
	if cfg.Owner == ([20]byte{}) {
		return fmt.Errorf("%w: owner required", ErrInvalidConfig)
	}
	if cfg.Governance == ([20]byte{}) {
		return fmt.Errorf("%w: governance required", ErrInvalidConfig)
	}
	if cfg.Rate == nil || cfg.Rate.Sign() <= 0 {
		return fmt.Errorf("%w: rate must be positive", ErrInvalidConfig)
	}
	if cfg.ListingRate == nil || cfg.ListingRate.Sign() <= 0 {
		return fmt.Errorf("%w: listing rate must be positive", ErrInvalidConfig)
	}
	if cfg.ListingRate.Cmp(cfg.Rate) > 0 {
		return fmt.Errorf("%w: listing rate exceeds sale rate", ErrInvalidConfig)
	}
	if cfg.MinContribution == nil || cfg.MinContribution.Sign() <= 0 {
		return fmt.Errorf("%w: min contribution must be positive", ErrInvalidConfig)
	}
	if cfg.MaxContribution == nil || cfg.MaxContribution.Cmp(cfg.MinContribution) < 0 {
		return fmt.Errorf("%w: max contribution below min", ErrInvalidConfig)
	}
	if cfg.HardCap == nil || cfg.HardCap.Sign() <= 0 {
		return fmt.Errorf("%w: hard cap must be positive", ErrInvalidConfig)
	}
	if cfg.SoftCap == nil || cfg.SoftCap.Sign() <= 0 || cfg.SoftCap.Cmp(cfg.HardCap) > 0 {
		return fmt.Errorf("%w: soft cap out of range", ErrInvalidConfig)
	}
	// Soft cap must be at least half of the hard cap.
	doubled := new(big.Int).Lsh(cfg.SoftCap, 1)
	if doubled.Cmp(cfg.HardCap) < 0 {
		return fmt.Errorf("%w: soft cap below 50%% of hard cap", ErrInvalidConfig)
	}
	if cfg.MaxContribution.Cmp(cfg.HardCap) > 0 {
		return fmt.Errorf("%w: max contribution exceeds hard cap", ErrInvalidConfig)
	}
	if cfg.StartTime <= now {
		return fmt.Errorf("%w: start time not in the future", ErrInvalidConfig)
	}
	if cfg.EndTime <= cfg.StartTime {
		return fmt.Errorf("%w: end time before start time", ErrInvalidConfig)
	}
	if cfg.LiquidityLockSeconds < MinLiquidityLockSeconds {
		return fmt.Errorf("%w: liquidity lock below minimum", ErrInvalidConfig)
	}
	if cfg.CurrencyFeePct > 100 || cfg.TokenFeePct > 100 {
		return fmt.Errorf("%w: fee percentage out of range", ErrInvalidConfig)
	}
	if cfg.LiquidityPct < 51 || cfg.LiquidityPct > 100 {
		return fmt.Errorf("%w: liquidity percentage out of range", ErrInvalidConfig)
	}
	if !cfg.RefundPolicy.Valid() {
		return fmt.Errorf("%w: unknown refund policy", ErrInvalidConfig)
	}
	if err := sanitizeVesting(cfg.Vesting); err != nil {
		return err
	}
	cfg.Details = strings.TrimSpace(cfg.Details)
	return nil
}

func sanitizeVesting(v VestingSchedule) error {
	if v.Zero() {
		return nil
	}
	if v.FirstReleasePct > 100 || v.CyclePct > 100 {
		return fmt.Errorf("%w: vesting percentage out of range", ErrInvalidConfig)
	}
	if v.CyclePct > 0 && v.Period <= 0 {
		return fmt.Errorf("%w: vesting period must be positive", ErrInvalidConfig)
	}
	if v.FirstReleasePct == 0 && v.CyclePct == 0 {
		return fmt.Errorf("%w: vesting schedule releases nothing", ErrInvalidConfig)
	}
	return nil
}

// SanitizeTeamVesting validates the one-time team escrow parameters.
func SanitizeTeamVesting(tv *TeamVesting) error {
	if tv == nil {
		return fmt.Errorf("%w: nil team vesting", ErrInvalidConfig)
	}
	if tv.Total == nil || tv.Total.Sign() <= 0 {
		return fmt.Errorf("%w: team vesting total must be positive", ErrInvalidConfig)
	}
	if tv.Delay < 0 {
		return fmt.Errorf("%w: team vesting delay negative", ErrInvalidConfig)
	}
	if tv.FirstPct > 100 || tv.CyclePct > 100 {
		return fmt.Errorf("%w: team vesting percentage out of range", ErrInvalidConfig)
	}
	if tv.CyclePct > 0 && tv.Period <= 0 {
		return fmt.Errorf("%w: team vesting period must be positive", ErrInvalidConfig)
	}
	if tv.FirstPct == 0 && tv.CyclePct == 0 {
		return fmt.Errorf("%w: team vesting releases nothing", ErrInvalidConfig)
	}
	return nil
}
