package shared

import "fmt"

// Stage identifies where in the payout chain a settlement signal originates
type Stage string

const (
	StageMarketplaceSettlement Stage = "MARKETPLACE_SETTLEMENT"
	StageIntermediaryTransfer  Stage = "INTERMEDIARY_TRANSFER"
	StageBankCredit            Stage = "BANK_CREDIT"
)

// Stages lists every stage in chain order.
var Stages = []Stage{StageMarketplaceSettlement, StageIntermediaryTransfer, StageBankCredit}

func (s Stage) IsValid() bool {
	switch s {
	case StageMarketplaceSettlement, StageIntermediaryTransfer, StageBankCredit:
		return true
	}
	return false
}

// ParseStage validates a stage name received from an adapter or query string
func ParseStage(value string) (Stage, error) {
	s := Stage(value)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, value)
	}
	return s, nil
}

// StagePair names one hop of the chain. Only adjacent stages form a pair.
type StagePair string

const (
	PairSettlementToIntermediary StagePair = "SETTLEMENT_TO_INTERMEDIARY"
	PairIntermediaryToBank       StagePair = "INTERMEDIARY_TO_BANK"
)

// StagePairs lists the passes in the order a full reconciliation runs them.
var StagePairs = []StagePair{PairSettlementToIntermediary, PairIntermediaryToBank}

func (p StagePair) IsValid() bool {
	return p == PairSettlementToIntermediary || p == PairIntermediaryToBank
}

// Stages returns the upstream and downstream stage of the pair
func (p StagePair) Stages() (from Stage, to Stage) {
	switch p {
	case PairSettlementToIntermediary:
		return StageMarketplaceSettlement, StageIntermediaryTransfer
	case PairIntermediaryToBank:
		return StageIntermediaryTransfer, StageBankCredit
	}
	return "", ""
}

// PairBetween returns the pair linking from to to, if the two stages are adjacent in that order.
func PairBetween(from, to Stage) (StagePair, bool) {
	for _, p := range StagePairs {
		f, t := p.Stages()
		if f == from && t == to {
			return p, true
		}
	}
	return "", false
}

// PairsTouching returns every pair in which the stage participates, in pass order.
func PairsTouching(s Stage) []StagePair {
	var pairs []StagePair
	for _, p := range StagePairs {
		f, t := p.Stages()
		if f == s || t == s {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// MatchConfidence records how a link was established
type MatchConfidence string

const (
	MatchConfidenceExact  MatchConfidence = "EXACT"
	MatchConfidenceFuzzy  MatchConfidence = "FUZZY"
	MatchConfidenceManual MatchConfidence = "MANUAL"
)

// ChainStatus is the derived reconciliation state of an event
type ChainStatus string

const (
	ChainStatusMatched             ChainStatus = "MATCHED"
	ChainStatusPendingIntermediary ChainStatus = "PENDING_INTERMEDIARY"
	ChainStatusPendingBank         ChainStatus = "PENDING_BANK"
	ChainStatusMismatched          ChainStatus = "MISMATCHED"
	ChainStatusUnlinked            ChainStatus = "UNLINKED" // bank credits with no upstream transfer
)

func (s ChainStatus) IsValid() bool {
	switch s {
	case ChainStatusMatched, ChainStatusPendingIntermediary, ChainStatusPendingBank,
		ChainStatusMismatched, ChainStatusUnlinked:
		return true
	}
	return false
}

// MismatchReason qualifies a MISMATCHED status
type MismatchReason string

const (
	MismatchReasonNone      MismatchReason = ""
	MismatchReasonAmbiguous MismatchReason = "AMBIGUOUS"
	MismatchReasonAmount    MismatchReason = "AMOUNT"
)

// RunTrigger records what started a reconciliation run
type RunTrigger string

const (
	RunTriggerAPI       RunTrigger = "API"
	RunTriggerIngestion RunTrigger = "INGESTION"
	RunTriggerSchedule  RunTrigger = "SCHEDULE"
)

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)
