package sale

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// SetWhitelistEnabled toggles the whitelist gate.
func (e *Engine) SetWhitelistEnabled(caller [20]byte, id [32]byte, enabled bool) error {
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
	s.Config.WhitelistEnabled = enabled
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleWhitelistUpdated, s, map[string]string{
		"enabled": strconv.FormatBool(enabled),
	}))
	return nil
}

// AddWhitelisted admits the given addresses through the whitelist gate.
func (e *Engine) AddWhitelisted(caller [20]byte, id [32]byte, addrs [][20]byte) error {
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
	for _, addr := range addrs {
		if s.Whitelist[addr] {
			continue
		}
		s.Whitelist[addr] = true
		s.WhitelistOrder = append(s.WhitelistOrder, addr)
	}
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleWhitelistUpdated, s, map[string]string{
		"added": strconv.Itoa(len(addrs)),
	}))
	return nil
}

// RemoveWhitelisted revokes whitelist membership for the given addresses.
func (e *Engine) RemoveWhitelisted(caller [20]byte, id [32]byte, addrs [][20]byte) error {
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
	for _, addr := range addrs {
		if !s.Whitelist[addr] {
			continue
		}
		delete(s.Whitelist, addr)
		for i, existing := range s.WhitelistOrder {
			if existing == addr {
				s.WhitelistOrder = append(s.WhitelistOrder[:i], s.WhitelistOrder[i+1:]...)
				break
			}
		}
	}
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleWhitelistUpdated, s, map[string]string{
		"removed": strconv.Itoa(len(addrs)),
	}))
	return nil
}

// SetPublicStart schedules the instant after which the whitelist gate is
// bypassed even though whitelisting stays enabled.
func (e *Engine) SetPublicStart(caller [20]byte, id [32]byte, publicStart int64) error {
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
	if publicStart < 0 {
		publicStart = 0
	}
	s.PublicStart = publicStart
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleWhitelistUpdated, s, map[string]string{
		"publicStart": strconv.FormatInt(publicStart, 10),
	}))
	return nil
}

// EditDetails replaces the free-text details blob. Owner-only, and frozen
// once the sale leaves the InUse state.
func (e *Engine) EditDetails(caller [20]byte, id [32]byte, details string) error {
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	if s.State != SaleInUse {
		return ErrSaleNotActive
	}
	s.Config.Details = strings.TrimSpace(details)
	return e.storeSale(s)
}

// TransferOwnership hands the owner role to a new identity.
func (e *Engine) TransferOwnership(caller [20]byte, id [32]byte, newOwner [20]byte) error {
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == ([20]byte{}) {
		return ErrInvalidConfig
	}
	s.Config.Owner = newOwner
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleOwnerChanged, s, map[string]string{
		"owner": hex.EncodeToString(newOwner[:]),
	}))
	return nil
}

// SetGovernance rotates the governance identity. Only governance itself may
// do so.
func (e *Engine) SetGovernance(caller [20]byte, id [32]byte, newGovernance [20]byte) error {
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := s.requireGovernance(caller); err != nil {
		return err
	}
	if newGovernance == ([20]byte{}) {
		return ErrInvalidConfig
	}
	s.Config.Governance = newGovernance
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(newSaleEvent(EventTypeSaleGovChanged, s, map[string]string{
		"governance": hex.EncodeToString(newGovernance[:]),
	}))
	return nil
}
