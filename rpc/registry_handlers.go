package rpc

import (
	"encoding/hex"
	"encoding/json"

	"launchpool/native/registry"
	"launchpool/native/sale"
)

type createPoolParams struct {
	Caller               string `json:"caller"`
	Token                string `json:"token"`
	Router               string `json:"router"`
	Rate                 string `json:"rate"`
	ListingRate          string `json:"listingRate"`
	MinContribution      string `json:"minContribution"`
	MaxContribution      string `json:"maxContribution"`
	SoftCap              string `json:"softCap"`
	HardCap              string `json:"hardCap"`
	StartTime            int64  `json:"startTime"`
	EndTime              int64  `json:"endTime"`
	LiquidityLockSeconds int64  `json:"liquidityLockSeconds"`
	LiquidityPct         uint64 `json:"liquidityPct"`
	BurnLeftover         bool   `json:"burnLeftover"`
	WhitelistEnabled     bool   `json:"whitelistEnabled"`
	Details              string `json:"details"`

	VestingFirstPct uint64 `json:"vestingFirstPct"`
	VestingPeriod   int64  `json:"vestingPeriod"`
	VestingCyclePct uint64 `json:"vestingCyclePct"`

	TeamVesting *teamVestingParams `json:"teamVesting,omitempty"`
}

type teamVestingParams struct {
	Total    string `json:"total"`
	Delay    int64  `json:"delay"`
	FirstPct uint64 `json:"firstPct"`
	Period   int64  `json:"period"`
	CyclePct uint64 `json:"cyclePct"`
}

type poolListParams struct {
	Offset      int    `json:"offset,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Participant string `json:"participant,omitempty"`
	Token       string `json:"token,omitempty"`
}

type eventsParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) registerRegistryHandlers() {
	s.handlers["launch_createPool"] = s.handleCreatePool
	s.handlers["launch_tokenRequirement"] = s.handleTokenRequirement
	s.handlers["launch_pools"] = s.handlePools
	s.handlers["launch_poolsOf"] = s.handlePoolsOf
	s.handlers["launch_poolForToken"] = s.handlePoolForToken
	s.handlers["launch_events"] = s.handleEvents
}

func decodeCreateParams(raw json.RawMessage) ([20]byte, registry.CreatePoolParams, *RPCError) {
	var in createPoolParams
	var out registry.CreatePoolParams
	if rpcErr := decodeParams(raw, &in); rpcErr != nil {
		return [20]byte{}, out, rpcErr
	}
	caller, err := parseAddress(in.Caller)
	if err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.Token, err = parseAddress(in.Token); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.Router, err = parseAddress(in.Router); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.Rate, err = parseAmount(in.Rate); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.ListingRate, err = parseAmount(in.ListingRate); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.MinContribution, err = parseAmount(in.MinContribution); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.MaxContribution, err = parseAmount(in.MaxContribution); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.SoftCap, err = parseAmount(in.SoftCap); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if out.HardCap, err = parseAmount(in.HardCap); err != nil {
		return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	out.StartTime = in.StartTime
	out.EndTime = in.EndTime
	out.LiquidityLockSeconds = in.LiquidityLockSeconds
	out.LiquidityPct = in.LiquidityPct
	out.RefundPolicy = sale.RefundLeftover
	if in.BurnLeftover {
		out.RefundPolicy = sale.BurnLeftover
	}
	out.WhitelistEnabled = in.WhitelistEnabled
	out.Details = in.Details
	out.Vesting = sale.VestingSchedule{
		FirstReleasePct: in.VestingFirstPct,
		Period:          in.VestingPeriod,
		CyclePct:        in.VestingCyclePct,
	}
	if in.TeamVesting != nil {
		total, err := parseAmount(in.TeamVesting.Total)
		if err != nil {
			return [20]byte{}, out, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		out.TeamVesting = &sale.TeamVesting{
			Total:    total,
			Delay:    in.TeamVesting.Delay,
			FirstPct: in.TeamVesting.FirstPct,
			Period:   in.TeamVesting.Period,
			CyclePct: in.TeamVesting.CyclePct,
		}
	}
	return caller, out, nil
}

func (s *Server) handleCreatePool(raw json.RawMessage) (interface{}, *RPCError) {
	caller, params, rpcErr := decodeCreateParams(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	created, err := s.registry.CreatePool(caller, params)
	if err != nil {
		return nil, engineError(err)
	}
	return newSaleView(created), nil
}

func (s *Server) handleTokenRequirement(raw json.RawMessage) (interface{}, *RPCError) {
	_, params, rpcErr := decodeCreateParams(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	required, err := s.registry.TokenRequirement(&params)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]string{"required": required.String()}, nil
}

func (s *Server) handlePools(raw json.RawMessage) (interface{}, *RPCError) {
	params := poolListParams{Limit: 50}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "malformed params", Data: err.Error()}
		}
	}
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}
	return encodeSaleIDs(s.registry.Pools(params.Offset, params.Limit)), nil
}

func (s *Server) handlePoolsOf(raw json.RawMessage) (interface{}, *RPCError) {
	var params poolListParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	participant, err := parseAddress(params.Participant)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return encodeSaleIDs(s.registry.PoolsOf(participant)), nil
}

func (s *Server) handlePoolForToken(raw json.RawMessage) (interface{}, *RPCError) {
	var params poolListParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	id, ok := s.registry.PoolForToken(token)
	if !ok {
		return nil, &RPCError{Code: codeSaleNotFound, Message: "no sale for token"}
	}
	return map[string]string{"saleId": hex.EncodeToString(id[:])}, nil
}

func (s *Server) handleEvents(raw json.RawMessage) (interface{}, *RPCError) {
	params := eventsParams{Limit: 100}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "malformed params", Data: err.Error()}
		}
	}
	if s.events == nil {
		return []struct{}{}, nil
	}
	return s.events.Recent(params.Limit), nil
}

func encodeSaleIDs(ids [][32]byte) []string {
	encoded := make([]string, 0, len(ids))
	for _, id := range ids {
		encoded = append(encoded, hex.EncodeToString(id[:]))
	}
	return encoded
}
