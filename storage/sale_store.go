package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"launchpool/native/sale"
)

var (
	saleRecordPrefix = []byte("sale/record/")
	saleIndexKey     = []byte("sale/index")
)

// SaleStore persists sale snapshots beneath a Database and keeps a
// write-through cache so the engine reads never touch the codec. It satisfies
// the sale engine's state interface.
type SaleStore struct {
	mu    sync.RWMutex
	db    Database
	cache map[[32]byte]*sale.Sale
	index [][32]byte
}

// NewSaleStore opens the store, loading any previously persisted sales.
func NewSaleStore(db Database) (*SaleStore, error) {
	store := &SaleStore{
		db:    db,
		cache: make(map[[32]byte]*sale.Sale),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SaleStore) load() error {
	raw, err := s.db.Get(saleIndexKey)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("storage: corrupt sale index: %w", err)
	}
	for _, encoded := range ids {
		id, err := decodeID(encoded)
		if err != nil {
			return err
		}
		blob, err := s.db.Get(recordKey(id))
		if err != nil {
			return err
		}
		var snap saleSnapshot
		if err := json.Unmarshal(blob, &snap); err != nil {
			return fmt.Errorf("storage: corrupt sale record %s: %w", encoded, err)
		}
		decoded, err := snap.toSale()
		if err != nil {
			return err
		}
		s.cache[id] = decoded
		s.index = append(s.index, id)
	}
	return nil
}

func recordKey(id [32]byte) []byte {
	return append(append([]byte(nil), saleRecordPrefix...), []byte(hex.EncodeToString(id[:]))...)
}

// SaleGet returns a clone of the stored sale.
func (s *SaleStore) SaleGet(id [32]byte) (*sale.Sale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	return stored.Clone(), true
}

// SalePut persists the sale snapshot and refreshes the cache.
func (s *SaleStore) SalePut(record *sale.Sale) error {
	if record == nil {
		return fmt.Errorf("storage: nil sale")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := json.Marshal(newSaleSnapshot(record))
	if err != nil {
		return err
	}
	if err := s.db.Put(recordKey(record.ID), blob); err != nil {
		return err
	}
	if _, ok := s.cache[record.ID]; !ok {
		s.index = append(s.index, record.ID)
		if err := s.persistIndex(); err != nil {
			return err
		}
	}
	s.cache[record.ID] = record.Clone()
	return nil
}

// SaleDelete removes a sale record and its index entry. Deleting an unknown
// identifier is a no-op.
func (s *SaleStore) SaleDelete(id [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[id]; !ok {
		return nil
	}
	if err := s.db.Delete(recordKey(id)); err != nil {
		return err
	}
	delete(s.cache, id)
	for i, existing := range s.index {
		if existing == id {
			s.index = append(s.index[:i], s.index[i+1:]...)
			break
		}
	}
	return s.persistIndex()
}

func (s *SaleStore) persistIndex() error {
	ids := make([]string, 0, len(s.index))
	for _, id := range s.index {
		ids = append(ids, hex.EncodeToString(id[:]))
	}
	blob, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.db.Put(saleIndexKey, blob)
}

// IDs lists every stored sale identifier in insertion order.
func (s *SaleStore) IDs() [][32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][32]byte(nil), s.index...)
}

// saleSnapshot is the JSON shape written to disk: addresses and identifiers
// hex-encoded, monetary amounts as decimal strings.
type saleSnapshot struct {
	ID        string            `json:"id"`
	Address   string            `json:"address"`
	State     uint8             `json:"state"`
	CreatedAt int64             `json:"createdAt"`
	Config    configSnapshot    `json:"config"`
	Totals    totalsSnapshot    `json:"totals"`
	Records   map[string]record `json:"records"`

	Participants   []string `json:"participants"`
	Whitelist      []string `json:"whitelist"`
	PublicStart    int64    `json:"publicStart"`
	FinalizedAt    int64    `json:"finalizedAt"`
	LiquidityPair  string   `json:"liquidityPair"`
	LiquidityLock  string   `json:"liquidityLock"`
	TeamConfigured bool     `json:"teamConfigured"`
	TeamTotal      string   `json:"teamTotal"`
	TeamDelay      int64    `json:"teamDelay"`
	TeamFirstPct   uint64   `json:"teamFirstPct"`
	TeamPeriod     int64    `json:"teamPeriod"`
	TeamCyclePct   uint64   `json:"teamCyclePct"`
	TeamLockID     string   `json:"teamLockId"`
}

type configSnapshot struct {
	Token                string `json:"token"`
	Router               string `json:"router"`
	Owner                string `json:"owner"`
	Governance           string `json:"governance"`
	Rate                 string `json:"rate"`
	ListingRate          string `json:"listingRate"`
	MinContribution      string `json:"minContribution"`
	MaxContribution      string `json:"maxContribution"`
	SoftCap              string `json:"softCap"`
	HardCap              string `json:"hardCap"`
	StartTime            int64  `json:"startTime"`
	EndTime              int64  `json:"endTime"`
	LiquidityLockSeconds int64  `json:"liquidityLockSeconds"`
	CurrencyFeePct       uint64 `json:"currencyFeePct"`
	TokenFeePct          uint64 `json:"tokenFeePct"`
	LiquidityPct         uint64 `json:"liquidityPct"`
	RefundPolicy         uint8  `json:"refundPolicy"`
	WhitelistEnabled     bool   `json:"whitelistEnabled"`
	Details              string `json:"details"`
	VestingFirstPct      uint64 `json:"vestingFirstPct"`
	VestingPeriod        int64  `json:"vestingPeriod"`
	VestingCyclePct      uint64 `json:"vestingCyclePct"`
}

type totalsSnapshot struct {
	Raised    string `json:"raised"`
	Purchased string `json:"purchased"`
	Claimed   string `json:"claimed"`
	Refunded  string `json:"refunded"`
}

type record struct {
	Contributed string `json:"contributed"`
	Purchased   string `json:"purchased"`
	Claimed     string `json:"claimed"`
	Refunded    string `json:"refunded"`
}

func newSaleSnapshot(s *sale.Sale) *saleSnapshot {
	snap := &saleSnapshot{
		ID:        hex.EncodeToString(s.ID[:]),
		Address:   hex.EncodeToString(s.Address[:]),
		State:     uint8(s.State),
		CreatedAt: s.CreatedAt,
		Config: configSnapshot{
			Token:                hex.EncodeToString(s.Config.Token[:]),
			Router:               hex.EncodeToString(s.Config.Router[:]),
			Owner:                hex.EncodeToString(s.Config.Owner[:]),
			Governance:           hex.EncodeToString(s.Config.Governance[:]),
			Rate:                 s.Config.Rate.String(),
			ListingRate:          s.Config.ListingRate.String(),
			MinContribution:      s.Config.MinContribution.String(),
			MaxContribution:      s.Config.MaxContribution.String(),
			SoftCap:              s.Config.SoftCap.String(),
			HardCap:              s.Config.HardCap.String(),
			StartTime:            s.Config.StartTime,
			EndTime:              s.Config.EndTime,
			LiquidityLockSeconds: s.Config.LiquidityLockSeconds,
			CurrencyFeePct:       s.Config.CurrencyFeePct,
			TokenFeePct:          s.Config.TokenFeePct,
			LiquidityPct:         s.Config.LiquidityPct,
			RefundPolicy:         uint8(s.Config.RefundPolicy),
			WhitelistEnabled:     s.Config.WhitelistEnabled,
			Details:              s.Config.Details,
			VestingFirstPct:      s.Config.Vesting.FirstReleasePct,
			VestingPeriod:        s.Config.Vesting.Period,
			VestingCyclePct:      s.Config.Vesting.CyclePct,
		},
		Totals: totalsSnapshot{
			Raised:    s.TotalRaised.String(),
			Purchased: s.TotalVolumePurchased.String(),
			Claimed:   s.TotalClaimed.String(),
			Refunded:  s.TotalRefunded.String(),
		},
		Records:        make(map[string]record, len(s.Contributions)),
		PublicStart:    s.PublicStart,
		FinalizedAt:    s.FinalizedAt,
		LiquidityPair:  hex.EncodeToString(s.LiquidityPair[:]),
		LiquidityLock:  s.LiquidityLockID,
		TeamConfigured: s.Team.Configured,
		TeamTotal:      bigString(s.Team.Total),
		TeamDelay:      s.Team.Delay,
		TeamFirstPct:   s.Team.FirstPct,
		TeamPeriod:     s.Team.Period,
		TeamCyclePct:   s.Team.CyclePct,
		TeamLockID:     s.Team.LockID,
	}
	for addr, rec := range s.Contributions {
		snap.Records[hex.EncodeToString(addr[:])] = record{
			Contributed: rec.Contributed.String(),
			Purchased:   rec.Purchased.String(),
			Claimed:     rec.Claimed.String(),
			Refunded:    rec.Refunded.String(),
		}
	}
	for _, addr := range s.Participants {
		snap.Participants = append(snap.Participants, hex.EncodeToString(addr[:]))
	}
	for _, addr := range s.WhitelistOrder {
		snap.Whitelist = append(snap.Whitelist, hex.EncodeToString(addr[:]))
	}
	return snap
}

func (snap *saleSnapshot) toSale() (*sale.Sale, error) {
	id, err := decodeID(snap.ID)
	if err != nil {
		return nil, err
	}
	address, err := decodeAddress(snap.Address)
	if err != nil {
		return nil, err
	}
	token, err := decodeAddress(snap.Config.Token)
	if err != nil {
		return nil, err
	}
	router, err := decodeAddress(snap.Config.Router)
	if err != nil {
		return nil, err
	}
	owner, err := decodeAddress(snap.Config.Owner)
	if err != nil {
		return nil, err
	}
	governance, err := decodeAddress(snap.Config.Governance)
	if err != nil {
		return nil, err
	}
	pair, err := decodeAddress(snap.LiquidityPair)
	if err != nil {
		return nil, err
	}
	s := &sale.Sale{
		ID:        id,
		Address:   address,
		State:     sale.SaleState(snap.State),
		CreatedAt: snap.CreatedAt,
		Config: sale.SaleConfig{
			Token:                token,
			Router:               router,
			Owner:                owner,
			Governance:           governance,
			Rate:                 bigFromString(snap.Config.Rate),
			ListingRate:          bigFromString(snap.Config.ListingRate),
			MinContribution:      bigFromString(snap.Config.MinContribution),
			MaxContribution:      bigFromString(snap.Config.MaxContribution),
			SoftCap:              bigFromString(snap.Config.SoftCap),
			HardCap:              bigFromString(snap.Config.HardCap),
			StartTime:            snap.Config.StartTime,
			EndTime:              snap.Config.EndTime,
			LiquidityLockSeconds: snap.Config.LiquidityLockSeconds,
			CurrencyFeePct:       snap.Config.CurrencyFeePct,
			TokenFeePct:          snap.Config.TokenFeePct,
			LiquidityPct:         snap.Config.LiquidityPct,
			RefundPolicy:         sale.RefundPolicy(snap.Config.RefundPolicy),
			WhitelistEnabled:     snap.Config.WhitelistEnabled,
			Details:              snap.Config.Details,
			Vesting: sale.VestingSchedule{
				FirstReleasePct: snap.Config.VestingFirstPct,
				Period:          snap.Config.VestingPeriod,
				CyclePct:        snap.Config.VestingCyclePct,
			},
		},
		TotalRaised:          bigFromString(snap.Totals.Raised),
		TotalVolumePurchased: bigFromString(snap.Totals.Purchased),
		TotalClaimed:         bigFromString(snap.Totals.Claimed),
		TotalRefunded:        bigFromString(snap.Totals.Refunded),
		Contributions:        make(map[[20]byte]*sale.ContributionRecord, len(snap.Records)),
		Whitelist:            make(map[[20]byte]bool, len(snap.Whitelist)),
		PublicStart:          snap.PublicStart,
		FinalizedAt:          snap.FinalizedAt,
		LiquidityPair:        pair,
		LiquidityLockID:      snap.LiquidityLock,
		Team: sale.TeamVesting{
			Total:      bigFromString(snap.TeamTotal),
			Delay:      snap.TeamDelay,
			FirstPct:   snap.TeamFirstPct,
			Period:     snap.TeamPeriod,
			CyclePct:   snap.TeamCyclePct,
			LockID:     snap.TeamLockID,
			Configured: snap.TeamConfigured,
		},
	}
	for encoded, rec := range snap.Records {
		addr, err := decodeAddress(encoded)
		if err != nil {
			return nil, err
		}
		s.Contributions[addr] = &sale.ContributionRecord{
			Contributed: bigFromString(rec.Contributed),
			Purchased:   bigFromString(rec.Purchased),
			Claimed:     bigFromString(rec.Claimed),
			Refunded:    bigFromString(rec.Refunded),
		}
	}
	for _, encoded := range snap.Participants {
		addr, err := decodeAddress(encoded)
		if err != nil {
			return nil, err
		}
		s.Participants = append(s.Participants, addr)
	}
	for _, encoded := range snap.Whitelist {
		addr, err := decodeAddress(encoded)
		if err != nil {
			return nil, err
		}
		s.Whitelist[addr] = true
		s.WhitelistOrder = append(s.WhitelistOrder, addr)
	}
	return s, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigFromString(v string) *big.Int {
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return big.NewInt(0)
	}
	return parsed
}

func decodeID(encoded string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("storage: invalid sale id %q", encoded)
	}
	copy(id[:], raw)
	return id, nil
}

func decodeAddress(encoded string) ([20]byte, error) {
	var addr [20]byte
	if encoded == "" {
		return addr, nil
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("storage: invalid address %q", encoded)
	}
	copy(addr[:], raw)
	return addr, nil
}
