package matcher

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
)

func record(id, amount, ref, phone string) *models.TransactionRecord {
	return &models.TransactionRecord{
		ExternalID: id,
		Amount:     decimal.RequireFromString(amount),
		AccountRef: ref,
		Phone:      phone,
	}
}

func newTestEngine(candidates []models.InvoiceCandidate, config *MatchingConfig) *MatchingEngine {
	return NewMatchingEngine(NewCandidateIndex(candidates), config)
}

func TestMatchExactReference(t *testing.T) {
	engine := newTestEngine(testCandidates(), nil)

	decision := engine.Match(record("MM1", "999.99", "inv/001", ""))
	if decision.Outcome != models.OutcomeMatched {
		t.Fatalf("expected matched, got %+v", decision)
	}
	if decision.InvoiceID != "inv-1" || decision.Basis != models.BasisExactReference {
		t.Errorf("unexpected decision %+v", decision)
	}
}

func TestMatchReferenceBeatsLaterStages(t *testing.T) {
	// The record's phone and amount point at inv-2, but the reference
	// names inv-3: stage order must win.
	engine := newTestEngine(testCandidates(), nil)

	decision := engine.Match(record("MM1", "500", "INV-003", "254712000222"))
	if decision.InvoiceID != "inv-3" || decision.Basis != models.BasisExactReference {
		t.Errorf("stage 1 should win, got %+v", decision)
	}
}

func TestMatchPhoneAmount(t *testing.T) {
	engine := newTestEngine(testCandidates(), nil)

	decision := engine.Match(record("MM1", "500", "", "+254712000222"))
	if decision.Outcome != models.OutcomeMatched {
		t.Fatalf("expected matched, got %+v", decision)
	}
	if decision.InvoiceID != "inv-2" || decision.Basis != models.BasisPhoneAmount {
		t.Errorf("unexpected decision %+v", decision)
	}
}

func TestMatchPhoneSharedDisambiguatedByAmount(t *testing.T) {
	// inv-1 (1000) and inv-3 (750) share a phone number; the amount picks
	// exactly one.
	engine := newTestEngine(testCandidates(), nil)

	decision := engine.Match(record("MM1", "750", "", "254712000111"))
	if decision.InvoiceID != "inv-3" || decision.Basis != models.BasisPhoneAmount {
		t.Errorf("unexpected decision %+v", decision)
	}
}

func TestMatchAmbiguousSharedPhoneEqualBalance(t *testing.T) {
	candidates := []models.InvoiceCandidate{
		{InvoiceID: "inv-a", TenantID: "t1", Reference: "A-1", Phone: "0712", Outstanding: decimal.NewFromInt(300)},
		{InvoiceID: "inv-b", TenantID: "t1", Reference: "B-1", Phone: "0712", Outstanding: decimal.NewFromInt(300)},
	}
	engine := newTestEngine(candidates, nil)

	decision := engine.Match(record("MM1", "300", "", "0712"))
	if decision.Outcome != models.OutcomeAmbiguous {
		t.Fatalf("expected ambiguous, never an arbitrary pick, got %+v", decision)
	}
	if len(decision.CandidateIDs) != 2 {
		t.Errorf("expected both candidates reported, got %v", decision.CandidateIDs)
	}
}

func TestMatchPhoneAmountTolerance(t *testing.T) {
	config := DefaultMatchingConfig()
	config.AmountTolerance = decimal.RequireFromString("1.00")
	engine := newTestEngine(testCandidates(), config)

	decision := engine.Match(record("MM1", "499.50", "", "254712000222"))
	if decision.Outcome != models.OutcomeMatched || decision.InvoiceID != "inv-2" {
		t.Errorf("expected tolerance match on inv-2, got %+v", decision)
	}

	// Default zero tolerance must reject the same near-miss; the
	// amount-only stage cannot claim it either, so it is unmatched.
	strict := newTestEngine(testCandidates(), nil)
	decision = strict.Match(record("MM2", "499.50", "", "254712000222"))
	if decision.Outcome != models.OutcomeUnmatched {
		t.Errorf("zero tolerance should not match 499.50 against 500, got %+v", decision)
	}
}

func TestMatchAmountOnlyUnique(t *testing.T) {
	engine := newTestEngine(testCandidates(), nil)

	decision := engine.Match(record("MM1", "750", "", ""))
	if decision.Outcome != models.OutcomeMatched {
		t.Fatalf("expected matched, got %+v", decision)
	}
	if decision.InvoiceID != "inv-3" || decision.Basis != models.BasisAmountOnlyUnique {
		t.Errorf("unexpected decision %+v", decision)
	}
}

func TestMatchAmountOnlyAmbiguous(t *testing.T) {
	candidates := []models.InvoiceCandidate{
		{InvoiceID: "inv-a", TenantID: "t1", Reference: "A-1", Outstanding: decimal.NewFromInt(400)},
		{InvoiceID: "inv-b", TenantID: "t1", Reference: "B-1", Outstanding: decimal.NewFromInt(400)},
	}
	engine := newTestEngine(candidates, nil)

	decision := engine.Match(record("MM1", "400", "", ""))
	if decision.Outcome != models.OutcomeAmbiguous {
		t.Fatalf("expected ambiguous, got %+v", decision)
	}
}

func TestMatchNoCandidate(t *testing.T) {
	engine := newTestEngine(testCandidates(), nil)

	decision := engine.Match(record("MM1", "123.45", "UNKNOWN-REF", "254799999999"))
	if decision.Outcome != models.OutcomeUnmatched || decision.Reason != ReasonNoCandidate {
		t.Errorf("expected unmatched/no_candidate, got %+v", decision)
	}
}

func TestMatchUnknownReferenceFallsThrough(t *testing.T) {
	// A reference that resolves nothing must not block the later stages.
	engine := newTestEngine(testCandidates(), nil)

	decision := engine.Match(record("MM1", "500", "WRONG-REF", "254712000222"))
	if decision.Outcome != models.OutcomeMatched || decision.Basis != models.BasisPhoneAmount {
		t.Errorf("expected fall-through to phone+amount, got %+v", decision)
	}
}

func TestMatchSeesConsumedBalance(t *testing.T) {
	engine := newTestEngine(testCandidates(), nil)

	// After consuming 600 of inv-1's 1000, a 400 amount-only row must
	// find it and a 1000 row must not.
	engine.Index().ConsumeBalance("inv-1", decimal.NewFromInt(600))

	decision := engine.Match(record("MM1", "400", "", ""))
	if decision.Outcome != models.OutcomeMatched || decision.InvoiceID != "inv-1" {
		t.Errorf("expected match against updated balance, got %+v", decision)
	}

	decision = engine.Match(record("MM2", "1000", "", ""))
	if decision.Outcome != models.OutcomeUnmatched {
		t.Errorf("stale balance must not match, got %+v", decision)
	}
}

func TestAmbiguousCandidateCap(t *testing.T) {
	var candidates []models.InvoiceCandidate
	for i := 0; i < 15; i++ {
		candidates = append(candidates, models.InvoiceCandidate{
			InvoiceID:   string(rune('a'+i)) + "-inv",
			TenantID:    "t1",
			Outstanding: decimal.NewFromInt(100),
		})
	}
	config := DefaultMatchingConfig()
	config.MaxAmbiguousCandidates = 5
	engine := newTestEngine(candidates, config)

	decision := engine.Match(record("MM1", "100", "", ""))
	if decision.Outcome != models.OutcomeAmbiguous {
		t.Fatalf("expected ambiguous, got %+v", decision)
	}
	if len(decision.CandidateIDs) != 5 {
		t.Errorf("expected capped candidate list of 5, got %d", len(decision.CandidateIDs))
	}
}

func TestMatchingConfigValidate(t *testing.T) {
	config := DefaultMatchingConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}

	config.AmountTolerance = decimal.NewFromInt(-1)
	if err := config.Validate(); err == nil {
		t.Error("negative tolerance should fail validation")
	}

	config = DefaultMatchingConfig()
	config.MaxAmbiguousCandidates = 0
	if err := config.Validate(); err == nil {
		t.Error("zero candidate cap should fail validation")
	}
}
