package debt

import "time"

// DebtStatus enumerates the lifecycle of an installment obligation.
type DebtStatus string

const (
	StatusActive DebtStatus = "active"
	StatusClosed DebtStatus = "closed"
)

// Debtor is a customer tracked independently of specific debts. Canonical
// fields are owned by the backend; Favorite is a client-local annotation
// used only for display ordering and is never sent upstream.
type Debtor struct {
	ID           string   `json:"id"`
	FullName     string   `json:"full_name"`
	Address      string   `json:"address,omitempty"`
	PhoneNumbers []string `json:"phone_numbers"`
	Store        string   `json:"store,omitempty"`
	Favorite     bool     `json:"favorite,omitempty"`
}

// Debt is one installment obligation. All monetary sums are int64 tiyin
// (minor units) so balances add exactly.
type Debt struct {
	ID              string     `json:"id"`
	DebtorID        string     `json:"debtor_id"`
	PrincipalSum    int64      `json:"principal_sum"`
	TotalSum        int64      `json:"total_sum"`
	PaidSum         int64      `json:"paid_sum"`
	PeriodMonths    int        `json:"period_months"`
	NextPaymentDate time.Time  `json:"next_payment_date"`
	Description     string     `json:"description,omitempty"`
	Status          DebtStatus `json:"status"`
	Images          []string   `json:"images,omitempty"`
}
