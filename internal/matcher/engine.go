package matcher

import (
	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/logger"
)

// ReasonNoCandidate is the unmatched reason when no stage finds a candidate.
const ReasonNoCandidate = "no_candidate"

// MatchingEngine applies the staged matching rules to one transaction at a
// time against a CandidateIndex snapshot.
type MatchingEngine struct {
	config *MatchingConfig
	index  *CandidateIndex
	logger logger.Logger
}

// NewMatchingEngine creates an engine over the given index. A nil config
// falls back to DefaultMatchingConfig.
func NewMatchingEngine(index *CandidateIndex, config *MatchingConfig) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &MatchingEngine{
		config: config,
		index:  index,
		logger: logger.GetGlobalLogger().WithComponent("matching_engine"),
	}
}

// Config returns a copy of the engine configuration.
func (e *MatchingEngine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Index exposes the engine's candidate index so the allocation unit can
// consume local balances after each posting.
func (e *MatchingEngine) Index() *CandidateIndex {
	return e.index
}

// Match applies the staged rules in order and stops at the first stage that
// yields exactly one candidate:
//
//  1. exact reference equality (normalized);
//  2. phone match with the amount equal to the candidate's outstanding
//     balance within the configured tolerance;
//  3. amount equal to exactly one open invoice's outstanding tenant-wide.
//
// A stage yielding more than one candidate produces an Ambiguous decision;
// ambiguous rows need human review, picking one arbitrarily risks misapplied
// funds. A stage yielding none falls through to the next.
func (e *MatchingEngine) Match(record *models.TransactionRecord) models.MatchDecision {
	if decision, ok := e.matchByReference(record); ok {
		return decision
	}
	if decision, ok := e.matchByPhoneAmount(record); ok {
		return decision
	}
	if decision, ok := e.matchByAmountOnly(record); ok {
		return decision
	}

	e.logger.WithFields(logger.Fields{
		"external_txn_id": record.ExternalID,
		"amount":          record.Amount.String(),
	}).Debug("No candidate for transaction")
	return models.Unmatched(ReasonNoCandidate)
}

// matchByReference is stage 1. The reference index is unique by construction
// (colliding references are excluded at build time), so a hit is always a
// single candidate.
func (e *MatchingEngine) matchByReference(record *models.TransactionRecord) (models.MatchDecision, bool) {
	ref := models.NormalizeReference(record.AccountRef)
	if ref == "" {
		return models.MatchDecision{}, false
	}
	candidate := e.index.ByReference(ref)
	if candidate == nil {
		return models.MatchDecision{}, false
	}

	e.logger.WithFields(logger.Fields{
		"external_txn_id": record.ExternalID,
		"invoice_id":      candidate.InvoiceID,
		"reference":       ref,
	}).Debug("Matched by exact reference")
	return models.Matched(candidate.InvoiceID, models.BasisExactReference), true
}

// matchByPhoneAmount is stage 2: the debtor phone number matches and the
// amount equals the outstanding balance within the configured tolerance.
// When several invoices share the phone number, exact amount equality is
// additionally required to disambiguate.
func (e *MatchingEngine) matchByPhoneAmount(record *models.TransactionRecord) (models.MatchDecision, bool) {
	phone := models.NormalizePhone(record.Phone)
	if phone == "" {
		return models.MatchDecision{}, false
	}

	var withinTolerance []*models.InvoiceCandidate
	for _, candidate := range e.index.ByPhone(phone) {
		if !candidate.Outstanding.IsPositive() {
			continue
		}
		if models.AmountsEqualWithin(record.Amount, candidate.Outstanding, e.config.AmountTolerance) {
			withinTolerance = append(withinTolerance, candidate)
		}
	}

	switch len(withinTolerance) {
	case 0:
		return models.MatchDecision{}, false
	case 1:
		return models.Matched(withinTolerance[0].InvoiceID, models.BasisPhoneAmount), true
	}

	// Multiple invoices on the same phone within tolerance: require exact
	// equality before giving up as ambiguous.
	var exact []*models.InvoiceCandidate
	for _, candidate := range withinTolerance {
		if record.Amount.Equal(candidate.Outstanding) {
			exact = append(exact, candidate)
		}
	}
	if len(exact) == 1 {
		return models.Matched(exact[0].InvoiceID, models.BasisPhoneAmount), true
	}
	if len(exact) > 1 {
		return e.ambiguous(record, exact), true
	}
	return e.ambiguous(record, withinTolerance), true
}

// matchByAmountOnly is stage 3: the amount equals exactly one open invoice's
// outstanding balance tenant-wide.
func (e *MatchingEngine) matchByAmountOnly(record *models.TransactionRecord) (models.MatchDecision, bool) {
	var open []*models.InvoiceCandidate
	for _, candidate := range e.index.ByAmount(record.Amount) {
		if candidate.Outstanding.IsPositive() && record.Amount.Equal(candidate.Outstanding) {
			open = append(open, candidate)
		}
	}

	switch len(open) {
	case 0:
		return models.MatchDecision{}, false
	case 1:
		return models.Matched(open[0].InvoiceID, models.BasisAmountOnlyUnique), true
	default:
		return e.ambiguous(record, open), true
	}
}

func (e *MatchingEngine) ambiguous(record *models.TransactionRecord, candidates []*models.InvoiceCandidate) models.MatchDecision {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.InvoiceID)
	}
	if max := e.config.MaxAmbiguousCandidates; len(ids) > max {
		ids = ids[:max]
	}

	e.logger.WithFields(logger.Fields{
		"external_txn_id": record.ExternalID,
		"candidates":      len(candidates),
	}).Debug("Ambiguous match, requires review")
	return models.Ambiguous(ids)
}
