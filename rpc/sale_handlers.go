package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	"launchpool/native/sale"
)

type saleActorParams struct {
	SaleID string `json:"saleId"`
	Caller string `json:"caller"`
}

type saleAmountParams struct {
	SaleID string `json:"saleId"`
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type saleRescueParams struct {
	SaleID string `json:"saleId"`
	Caller string `json:"caller"`
	Token  string `json:"token,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type saleWhitelistParams struct {
	SaleID    string   `json:"saleId"`
	Caller    string   `json:"caller"`
	Addresses []string `json:"addresses,omitempty"`
	Enabled   bool     `json:"enabled,omitempty"`
	Time      int64    `json:"time,omitempty"`
}

type saleQueryParams struct {
	SaleID      string `json:"saleId"`
	Participant string `json:"participant,omitempty"`
}

type saleTextParams struct {
	SaleID  string `json:"saleId"`
	Caller  string `json:"caller"`
	Details string `json:"details,omitempty"`
	Address string `json:"address,omitempty"`
}

type contributionView struct {
	Contributed string `json:"contributed"`
	Purchased   string `json:"purchased"`
	Claimed     string `json:"claimed"`
	Refunded    string `json:"refunded"`
}

type saleView struct {
	SaleID               string `json:"saleId"`
	Address              string `json:"address"`
	Token                string `json:"token"`
	Owner                string `json:"owner"`
	Governance           string `json:"governance"`
	State                string `json:"state"`
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
	WhitelistEnabled     bool   `json:"whitelistEnabled"`
	PublicStart          int64  `json:"publicStart"`
	Details              string `json:"details"`
	VestingFirstPct      uint64 `json:"vestingFirstPct"`
	VestingPeriod        int64  `json:"vestingPeriod"`
	VestingCyclePct      uint64 `json:"vestingCyclePct"`
	TotalRaised          string `json:"totalRaised"`
	TotalVolumePurchased string `json:"totalVolumePurchased"`
	TotalClaimed         string `json:"totalClaimed"`
	TotalRefunded        string `json:"totalRefunded"`
	Participants         int    `json:"participants"`
	FinalizedAt          int64  `json:"finalizedAt,omitempty"`
	LiquidityPair        string `json:"liquidityPair,omitempty"`
	LiquidityLockID      string `json:"liquidityLockId,omitempty"`
}

func newSaleView(s *sale.Sale) *saleView {
	view := &saleView{
		SaleID:               hex.EncodeToString(s.ID[:]),
		Address:              hex.EncodeToString(s.Address[:]),
		Token:                hex.EncodeToString(s.Config.Token[:]),
		Owner:                hex.EncodeToString(s.Config.Owner[:]),
		Governance:           hex.EncodeToString(s.Config.Governance[:]),
		State:                s.State.String(),
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
		WhitelistEnabled:     s.Config.WhitelistEnabled,
		PublicStart:          s.PublicStart,
		Details:              s.Config.Details,
		VestingFirstPct:      s.Config.Vesting.FirstReleasePct,
		VestingPeriod:        s.Config.Vesting.Period,
		VestingCyclePct:      s.Config.Vesting.CyclePct,
		TotalRaised:          s.TotalRaised.String(),
		TotalVolumePurchased: s.TotalVolumePurchased.String(),
		TotalClaimed:         s.TotalClaimed.String(),
		TotalRefunded:        s.TotalRefunded.String(),
		Participants:         len(s.Participants),
		FinalizedAt:          s.FinalizedAt,
		LiquidityLockID:      s.LiquidityLockID,
	}
	if s.LiquidityPair != ([20]byte{}) {
		view.LiquidityPair = hex.EncodeToString(s.LiquidityPair[:])
	}
	return view
}

func (s *Server) registerSaleHandlers() {
	s.handlers["sale_contribute"] = s.handleSaleContribute
	s.handlers["sale_finalize"] = s.actorHandler(func(caller [20]byte, id [32]byte) error {
		return s.sales.Finalize(caller, id)
	})
	s.handlers["sale_cancel"] = s.actorHandler(func(caller [20]byte, id [32]byte) error {
		return s.sales.Cancel(caller, id)
	})
	s.handlers["sale_claim"] = s.amountResultHandler(s.sales.Claim)
	s.handlers["sale_withdrawContribution"] = s.amountResultHandler(s.sales.WithdrawContribution)
	s.handlers["sale_withdrawLeftovers"] = s.amountResultHandler(s.sales.WithdrawLeftovers)
	s.handlers["sale_withdrawLiquidity"] = s.amountResultHandler(s.sales.WithdrawLiquidity)
	s.handlers["sale_emergencyWithdrawToken"] = s.handleEmergencyToken
	s.handlers["sale_emergencyWithdrawCurrency"] = s.handleEmergencyCurrency
	s.handlers["sale_setWhitelistEnabled"] = s.handleSetWhitelistEnabled
	s.handlers["sale_addWhitelisted"] = s.handleAddWhitelisted
	s.handlers["sale_removeWhitelisted"] = s.handleRemoveWhitelisted
	s.handlers["sale_setPublicStart"] = s.handleSetPublicStart
	s.handlers["sale_editDetails"] = s.handleEditDetails
	s.handlers["sale_transferOwnership"] = s.handleTransferOwnership
	s.handlers["sale_setGovernance"] = s.handleSetGovernance
	s.handlers["sale_get"] = s.handleSaleGet
	s.handlers["sale_contribution"] = s.handleContributionOf
	s.handlers["sale_allocationHint"] = s.handleAllocationHint
	s.handlers["sale_isWhitelisted"] = s.handleIsWhitelisted
	s.handlers["sale_whitelist"] = s.handleWhitelist
	s.handlers["sale_liquidityBalance"] = s.handleLiquidityBalance
	s.handlers["sale_teamWithdrawable"] = s.handleTeamWithdrawable
}

func (s *Server) actorHandler(op func(caller [20]byte, id [32]byte) error) handlerFunc {
	return func(raw json.RawMessage) (interface{}, *RPCError) {
		var params saleActorParams
		if rpcErr := decodeParams(raw, &params); rpcErr != nil {
			return nil, rpcErr
		}
		caller, err := parseAddress(params.Caller)
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		id, err := parseSaleID(params.SaleID)
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		if err := op(caller, id); err != nil {
			return nil, engineError(err)
		}
		return map[string]bool{"ok": true}, nil
	}
}

func (s *Server) amountResultHandler(op func(caller [20]byte, id [32]byte) (*big.Int, error)) handlerFunc {
	return func(raw json.RawMessage) (interface{}, *RPCError) {
		var params saleActorParams
		if rpcErr := decodeParams(raw, &params); rpcErr != nil {
			return nil, rpcErr
		}
		caller, err := parseAddress(params.Caller)
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		id, err := parseSaleID(params.SaleID)
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		amount, err := op(caller, id)
		if err != nil {
			return nil, engineError(err)
		}
		return map[string]string{"amount": amount.String()}, nil
	}
}

func (s *Server) handleSaleContribute(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleAmountParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if err := s.sales.Contribute(caller, id, amount); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleEmergencyToken(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleRescueParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	to, err := parseAddress(params.To)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if err := s.sales.EmergencyWithdrawToken(caller, id, token, to, amount); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleEmergencyCurrency(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleRescueParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	to, err := parseAddress(params.To)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if err := s.sales.EmergencyWithdrawCurrency(caller, id, to, amount); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSetWhitelistEnabled(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleWhitelistParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, id, rpcErr := parseActor(params.Caller, params.SaleID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.sales.SetWhitelistEnabled(caller, id, params.Enabled); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAddWhitelisted(raw json.RawMessage) (interface{}, *RPCError) {
	return s.whitelistMutation(raw, s.sales.AddWhitelisted)
}

func (s *Server) handleRemoveWhitelisted(raw json.RawMessage) (interface{}, *RPCError) {
	return s.whitelistMutation(raw, s.sales.RemoveWhitelisted)
}

func (s *Server) whitelistMutation(raw json.RawMessage, op func(caller [20]byte, id [32]byte, addrs [][20]byte) error) (interface{}, *RPCError) {
	var params saleWhitelistParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, id, rpcErr := parseActor(params.Caller, params.SaleID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addrs := make([][20]byte, 0, len(params.Addresses))
	for _, encoded := range params.Addresses {
		addr, err := parseAddress(encoded)
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		addrs = append(addrs, addr)
	}
	if err := op(caller, id, addrs); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSetPublicStart(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleWhitelistParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, id, rpcErr := parseActor(params.Caller, params.SaleID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.sales.SetPublicStart(caller, id, params.Time); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleEditDetails(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleTextParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, id, rpcErr := parseActor(params.Caller, params.SaleID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.sales.EditDetails(caller, id, params.Details); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleTransferOwnership(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleTextParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, id, rpcErr := parseActor(params.Caller, params.SaleID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	newOwner, err := parseAddress(params.Address)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if err := s.sales.TransferOwnership(caller, id, newOwner); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSetGovernance(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleTextParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, id, rpcErr := parseActor(params.Caller, params.SaleID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	newGovernance, err := parseAddress(params.Address)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if err := s.sales.SetGovernance(caller, id, newGovernance); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSaleGet(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleQueryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	info, err := s.sales.SaleInfo(id)
	if err != nil {
		return nil, engineError(err)
	}
	return newSaleView(info), nil
}

func (s *Server) handleContributionOf(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleQueryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	participant, err := parseAddress(params.Participant)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	rec, err := s.sales.ContributionOf(id, participant)
	if err != nil {
		return nil, engineError(err)
	}
	return &contributionView{
		Contributed: rec.Contributed.String(),
		Purchased:   rec.Purchased.String(),
		Claimed:     rec.Claimed.String(),
		Refunded:    rec.Refunded.String(),
	}, nil
}

func (s *Server) handleAllocationHint(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleQueryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	participant, err := parseAddress(params.Participant)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	lo, hi, err := s.sales.AllocationHintOf(id, participant)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]string{"min": lo.String(), "max": hi.String()}, nil
}

func (s *Server) handleIsWhitelisted(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleQueryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	participant, err := parseAddress(params.Participant)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	admitted, err := s.sales.IsWhitelisted(id, participant)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"whitelisted": admitted}, nil
}

func (s *Server) handleWhitelist(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleQueryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	addrs, err := s.sales.WhitelistedAddresses(id)
	if err != nil {
		return nil, engineError(err)
	}
	encoded := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		encoded = append(encoded, hex.EncodeToString(addr[:]))
	}
	return encoded, nil
}

func (s *Server) handleLiquidityBalance(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleQueryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	balance, err := s.sales.LiquidityBalance(id)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]string{"balance": balance.String()}, nil
}

func (s *Server) handleTeamWithdrawable(raw json.RawMessage) (interface{}, *RPCError) {
	var params saleQueryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseSaleID(params.SaleID)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	amount, err := s.sales.TeamWithdrawable(id)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]string{"withdrawable": amount.String()}, nil
}

func parseActor(caller, saleID string) ([20]byte, [32]byte, *RPCError) {
	addr, err := parseAddress(caller)
	if err != nil {
		return [20]byte{}, [32]byte{}, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	id, err := parseSaleID(saleID)
	if err != nil {
		return [20]byte{}, [32]byte{}, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return addr, id, nil
}
