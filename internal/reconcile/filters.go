package reconcile

import (
	"strings"
	"time"

	"clinicstock/backend/internal/domain"
)

// OrderFilter uses the same predicate as the server list query.
func OrderFilter(q domain.OrderQuery) func(domain.Order) bool {
	return q.Matches
}

func OrderID(o domain.Order) int64 { return o.ID }

type TransactionFilter struct {
	Status string
	Search string
	From   *time.Time
	To     *time.Time
}

func (f TransactionFilter) Match(tx domain.Transaction) bool {
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.From != nil && tx.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.CreatedAt.After(*f.To) {
		return false
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		if !strings.Contains(strings.ToLower(tx.PatientName), search) {
			return false
		}
	}
	return true
}

func TransactionID(tx domain.Transaction) int64 { return tx.ID }
