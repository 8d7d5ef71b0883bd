package sale

import (
	"encoding/hex"
	"strconv"

	"launchpool/core/events"
)

const (
	EventTypeSaleCreated          = "sale.created"
	EventTypeSaleVestingConfig    = "sale.team_vesting_configured"
	EventTypeSaleContributed      = "sale.contributed"
	EventTypeSaleFinalized        = "sale.finalized"
	EventTypeSaleCancelled        = "sale.cancelled"
	EventTypeSaleDiscarded        = "sale.discarded"
	EventTypeSaleClaimed          = "sale.claimed"
	EventTypeSaleRefunded         = "sale.refunded"
	EventTypeSaleLeftoverSwept    = "sale.leftover_swept"
	EventTypeSaleLiquidityFreed   = "sale.liquidity_withdrawn"
	EventTypeSaleEmergencyRescue  = "sale.emergency_rescue"
	EventTypeSaleWhitelistUpdated = "sale.whitelist_updated"
	EventTypeSaleOwnerChanged     = "sale.owner_changed"
	EventTypeSaleGovChanged       = "sale.governance_changed"
)

func baseAttributes(s *Sale) map[string]string {
	attrs := make(map[string]string)
	if s == nil {
		return attrs
	}
	attrs["saleId"] = hex.EncodeToString(s.ID[:])
	attrs["token"] = hex.EncodeToString(s.Config.Token[:])
	attrs["state"] = s.State.String()
	return attrs
}

func newSaleEvent(eventType string, s *Sale, extra map[string]string) *events.Event {
	attrs := baseAttributes(s)
	for k, v := range extra {
		attrs[k] = v
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}

func newContributedEvent(s *Sale, participant [20]byte, amount, purchased string) *events.Event {
	return newSaleEvent(EventTypeSaleContributed, s, map[string]string{
		"participant": hex.EncodeToString(participant[:]),
		"amount":      amount,
		"purchased":   purchased,
		"totalRaised": s.TotalRaised.String(),
	})
}

func newFinalizedEvent(s *Sale, split *FeeBreakdown) *events.Event {
	return newSaleEvent(EventTypeSaleFinalized, s, map[string]string{
		"currencyFee":       split.CurrencyFee.String(),
		"tokenFee":          split.TokenFee.String(),
		"liquidityCurrency": split.LiquidityCurrency.String(),
		"liquidityToken":    split.LiquidityToken.String(),
		"lockId":            s.LiquidityLockID,
		"finalizedAt":       strconv.FormatInt(s.FinalizedAt, 10),
	})
}

func newClaimedEvent(s *Sale, participant [20]byte, amount string) *events.Event {
	return newSaleEvent(EventTypeSaleClaimed, s, map[string]string{
		"participant": hex.EncodeToString(participant[:]),
		"amount":      amount,
	})
}

func newRefundedEvent(s *Sale, participant [20]byte, amount string) *events.Event {
	return newSaleEvent(EventTypeSaleRefunded, s, map[string]string{
		"participant": hex.EncodeToString(participant[:]),
		"amount":      amount,
	})
}
