package domain

import "strings"

// Matches reports whether o satisfies the filter part of the query. Paging
// and sorting fields are ignored. The same predicate backs server-side list
// queries and client-side reconciliation so both agree on membership.
func (q OrderQuery) Matches(o Order) bool {
	if q.Status != "" && o.Status != q.Status {
		return false
	}
	if q.SupplierID > 0 && o.SupplierID != q.SupplierID {
		return false
	}
	if q.From != nil && o.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && o.CreatedAt.After(*q.To) {
		return false
	}
	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		haystack := strings.ToLower(o.ReceiptNumber + "\n" + o.Description + "\n" + o.SupplierName)
		if !strings.Contains(haystack, search) {
			return false
		}
	}
	return true
}
