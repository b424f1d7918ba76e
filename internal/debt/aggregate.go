package debt

import (
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Aggregation over debtor and debt collections. Everything here is a pure
// derivation: no mutation of inputs, no I/O, safe to recompute on every
// refresh.

// Aggregator derives balances, ratios and display ordering from raw debt
// records fetched from the backend.
type Aggregator struct {
	logger *zap.SugaredLogger
	coll   *collate.Collator
}

func NewAggregator(logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		logger: logger,
		coll:   collate.New(language.Uzbek),
	}
}

// OutstandingBalance returns TotalSum - PaidSum in tiyin, floored at zero.
// A negative raw balance means the backend handed us a record where paid
// exceeds total; that is a data-integrity violation worth a log line, not a
// crash.
func (a *Aggregator) OutstandingBalance(d Debt) int64 {
	out := d.TotalSum - d.PaidSum
	if out < 0 {
		a.logger.Warnw("debt paid sum exceeds total sum",
			"debt_id", d.ID,
			"debtor_id", d.DebtorID,
			"total_sum", d.TotalSum,
			"paid_sum", d.PaidSum,
		)
		return 0
	}
	return out
}

// TotalOutstandingForDebtor sums outstanding balances over the debts
// belonging to debtorID. Integer tiyin arithmetic keeps the sum exact.
func (a *Aggregator) TotalOutstandingForDebtor(debtorID string, debts []Debt) int64 {
	var total int64
	for _, d := range debts {
		if d.DebtorID != debtorID {
			continue
		}
		total += a.OutstandingBalance(d)
	}
	return total
}

// ProgressRatio returns PaidSum/TotalSum clamped to [0,1]. A zero total is
// 0% progress, never a division by zero.
func (a *Aggregator) ProgressRatio(d Debt) float64 {
	if d.TotalSum <= 0 {
		return 0
	}
	r := float64(d.PaidSum) / float64(d.TotalSum)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// SortDebtorsForDisplay returns a new slice ordered for the debtor list:
// favorited debtors first, then by descending total outstanding balance,
// ties broken by collated ascending full name. The favorite set is
// client-local state, not a backend field. The sort is stable, so identical
// inputs always produce identical output.
func (a *Aggregator) SortDebtorsForDisplay(debtors []Debtor, favoriteIDs map[string]bool, outstanding map[string]int64) []Debtor {
	out := make([]Debtor, len(debtors))
	copy(out, debtors)
	sort.SliceStable(out, func(i, j int) bool {
		iFav, jFav := favoriteIDs[out[i].ID], favoriteIDs[out[j].ID]
		if iFav != jFav {
			return iFav
		}
		iOut, jOut := outstanding[out[i].ID], outstanding[out[j].ID]
		if iOut != jOut {
			return iOut > jOut
		}
		return a.coll.CompareString(out[i].FullName, out[j].FullName) < 0
	})
	return out
}

// DueOnDate returns the active debts whose next payment falls on the given
// calendar day, for the daily view of the calendar screen.
func (a *Aggregator) DueOnDate(debts []Debt, day time.Time) []Debt {
	y, m, d := day.Date()
	var out []Debt
	for _, dt := range debts {
		if dt.Status != StatusActive {
			continue
		}
		dy, dm, dd := dt.NextPaymentDate.Date()
		if dy == y && dm == m && dd == d {
			out = append(out, dt)
		}
	}
	return out
}

// TotalDueInMonth sums outstanding balances of active debts whose next
// payment falls within the given month, for the calendar header figure.
func (a *Aggregator) TotalDueInMonth(debts []Debt, year int, month time.Month) int64 {
	var total int64
	for _, d := range debts {
		if d.Status != StatusActive {
			continue
		}
		dy, dm, _ := d.NextPaymentDate.Date()
		if dy == year && dm == month {
			total += a.OutstandingBalance(d)
		}
	}
	return total
}
