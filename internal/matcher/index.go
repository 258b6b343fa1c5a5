// Package matcher implements the candidate index and the staged matching
// engine that decides which open invoice a statement transaction pays.
package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
)

// CandidateIndex is a per-run, read-only snapshot of a tenant's open
// invoices, organized for the three matching stages.
//
// Candidates live in a flat arena addressed by invoice id; the reference,
// phone and amount lookups all resolve to ids and read the arena slot, so a
// balance update in one place is visible to every lookup. The index never
// touches the authoritative invoice store: ConsumeBalance only adjusts the
// local view so later rows in the same run see allocations made by earlier
// rows.
type CandidateIndex struct {
	// arena holds the per-run mutable copy of each candidate.
	arena map[string]*models.InvoiceCandidate

	// byReference maps a normalized reference to a single invoice id.
	// References shared by more than one invoice are excluded and listed
	// in collidedRefs; those invoices stay reachable through the
	// fallback stages.
	byReference  map[string]string
	collidedRefs map[string]bool

	// byPhone maps a normalized phone number to invoice ids.
	byPhone map[string][]string

	// byAmount maps an outstanding-amount bucket (minor currency unit)
	// to invoice ids. Rebucketed by ConsumeBalance as balances shrink.
	byAmount map[string][]string
}

// NewCandidateIndex builds the three lookup structures from a tenant's open
// invoices. Invoices with no outstanding balance are skipped.
func NewCandidateIndex(candidates []models.InvoiceCandidate) *CandidateIndex {
	idx := &CandidateIndex{
		arena:        make(map[string]*models.InvoiceCandidate, len(candidates)),
		byReference:  make(map[string]string),
		collidedRefs: make(map[string]bool),
		byPhone:      make(map[string][]string),
		byAmount:     make(map[string][]string),
	}

	for i := range candidates {
		c := candidates[i]
		if !c.Outstanding.IsPositive() {
			continue
		}
		local := c
		idx.arena[c.InvoiceID] = &local

		if ref := models.NormalizeReference(c.Reference); ref != "" {
			if _, exists := idx.byReference[ref]; exists || idx.collidedRefs[ref] {
				delete(idx.byReference, ref)
				idx.collidedRefs[ref] = true
			} else {
				idx.byReference[ref] = c.InvoiceID
			}
		}

		if phone := models.NormalizePhone(c.Phone); phone != "" {
			idx.byPhone[phone] = append(idx.byPhone[phone], c.InvoiceID)
		}

		bucket := models.AmountBucket(c.Outstanding)
		idx.byAmount[bucket] = append(idx.byAmount[bucket], c.InvoiceID)
	}

	return idx
}

// Size returns the number of indexed candidates.
func (idx *CandidateIndex) Size() int {
	return len(idx.arena)
}

// Get returns the local view of a candidate, or nil.
func (idx *CandidateIndex) Get(invoiceID string) *models.InvoiceCandidate {
	return idx.arena[invoiceID]
}

// ByReference resolves a normalized reference to a candidate. References that
// collide across invoices are excluded from this lookup.
func (idx *CandidateIndex) ByReference(normalizedRef string) *models.InvoiceCandidate {
	if normalizedRef == "" {
		return nil
	}
	id, ok := idx.byReference[normalizedRef]
	if !ok {
		return nil
	}
	return idx.arena[id]
}

// ByPhone returns the candidates sharing a normalized phone number, in a
// stable order.
func (idx *CandidateIndex) ByPhone(normalizedPhone string) []*models.InvoiceCandidate {
	if normalizedPhone == "" {
		return nil
	}
	return idx.resolve(idx.byPhone[normalizedPhone])
}

// ByAmount returns the candidates whose local outstanding balance falls in
// the same minor-unit bucket as amount, in a stable order.
func (idx *CandidateIndex) ByAmount(amount decimal.Decimal) []*models.InvoiceCandidate {
	return idx.resolve(idx.byAmount[models.AmountBucket(amount)])
}

// ConsumeBalance reduces the local outstanding view of an invoice after an
// allocation and rebuckets it in the amount index. Must be called
// synchronously after every allocation so later rows in the same statement
// match against the updated balance rather than the stale snapshot.
func (idx *CandidateIndex) ConsumeBalance(invoiceID string, applied decimal.Decimal) {
	candidate, ok := idx.arena[invoiceID]
	if !ok || !applied.IsPositive() {
		return
	}

	oldBucket := models.AmountBucket(candidate.Outstanding)
	candidate.Outstanding = candidate.Outstanding.Sub(applied)
	if candidate.Outstanding.IsNegative() {
		candidate.Outstanding = decimal.Zero
	}

	idx.byAmount[oldBucket] = removeID(idx.byAmount[oldBucket], invoiceID)
	if len(idx.byAmount[oldBucket]) == 0 {
		delete(idx.byAmount, oldBucket)
	}
	if candidate.Outstanding.IsPositive() {
		newBucket := models.AmountBucket(candidate.Outstanding)
		idx.byAmount[newBucket] = append(idx.byAmount[newBucket], invoiceID)
	}
}

// resolve maps ids to arena slots, dropping unknown ids and sorting by
// invoice id so ambiguity reports are deterministic.
func (idx *CandidateIndex) resolve(ids []string) []*models.InvoiceCandidate {
	if len(ids) == 0 {
		return nil
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	result := make([]*models.InvoiceCandidate, 0, len(sorted))
	for _, id := range sorted {
		if c, ok := idx.arena[id]; ok {
			result = append(result, c)
		}
	}
	return result
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
