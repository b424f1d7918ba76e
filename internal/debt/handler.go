package debt

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/takedaservice/nasiya/merchant-core-go/internal/debt/repo"
)

// Source abstracts the backend client for the debt views.
type Source interface {
	ListDebtors(ctx context.Context) ([]Debtor, error)
	ListDebts(ctx context.Context, debtorID string) ([]Debt, error)
}

// Handler serves the aggregated debtor and debt views to the UI shell.
// Backend failures degrade to empty collections; a screen never sees a
// transport error.
type Handler struct {
	source    Source
	agg       *Aggregator
	favorites *repo.FavoritesRepo
	logger    *zap.SugaredLogger
}

func NewHandler(source Source, agg *Aggregator, favorites *repo.FavoritesRepo, logger *zap.SugaredLogger) *Handler {
	return &Handler{source: source, agg: agg, favorites: favorites, logger: logger}
}

// debtorView is one row of the debtor list: backend fields plus the
// client-local favorite flag and the derived outstanding total.
type debtorView struct {
	Debtor
	TotalOutstanding    int64  `json:"total_outstanding"`
	TotalOutstandingSum string `json:"total_outstanding_sum"`
}

// ListDebtors returns all debtors in display order: favorites first, then
// descending outstanding balance, ties by name.
func (h *Handler) ListDebtors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	debtors, err := h.source.ListDebtors(ctx)
	if err != nil {
		h.logger.Warnw("listing debtors failed, serving empty list", "err", err)
		h.writeJSON(w, http.StatusOK, []debtorView{})
		return
	}

	favoriteIDs, err := h.favorites.IDs(ctx)
	if err != nil {
		h.logger.Warnw("reading favorites failed", "err", err)
		favoriteIDs = map[string]bool{}
	}

	outstanding := make(map[string]int64, len(debtors))
	for _, d := range debtors {
		debts, err := h.source.ListDebts(ctx, d.ID)
		if err != nil {
			h.logger.Warnw("listing debts failed, treating as none", "debtor_id", d.ID, "err", err)
			continue
		}
		outstanding[d.ID] = h.agg.TotalOutstandingForDebtor(d.ID, debts)
	}

	sorted := h.agg.SortDebtorsForDisplay(debtors, favoriteIDs, outstanding)
	views := make([]debtorView, 0, len(sorted))
	for _, d := range sorted {
		d.Favorite = favoriteIDs[d.ID]
		views = append(views, debtorView{
			Debtor:              d,
			TotalOutstanding:    outstanding[d.ID],
			TotalOutstandingSum: FormatSum(outstanding[d.ID]),
		})
	}
	h.writeJSON(w, http.StatusOK, views)
}

// debtView is one debt with its derived balance and repayment progress.
type debtView struct {
	Debt
	Outstanding    int64   `json:"outstanding"`
	OutstandingSum string  `json:"outstanding_sum"`
	Progress       float64 `json:"progress"`
}

// ListDebts returns one debtor's debts with outstanding balances and
// progress ratios for the detail screen's progress bars.
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	debtorID := r.PathValue("id")
	if debtorID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "debtor id is required"})
		return
	}

	debts, err := h.source.ListDebts(r.Context(), debtorID)
	if err != nil {
		h.logger.Warnw("listing debts failed, serving empty list", "debtor_id", debtorID, "err", err)
		h.writeJSON(w, http.StatusOK, []debtView{})
		return
	}

	views := make([]debtView, 0, len(debts))
	for _, d := range debts {
		out := h.agg.OutstandingBalance(d)
		views = append(views, debtView{
			Debt:           d,
			Outstanding:    out,
			OutstandingSum: FormatSum(out),
			Progress:       h.agg.ProgressRatio(d),
		})
	}
	h.writeJSON(w, http.StatusOK, views)
}

// ToggleFavorite flips the client-local favorite annotation of a debtor.
func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	debtorID := r.PathValue("id")
	if debtorID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "debtor id is required"})
		return
	}
	fav, err := h.favorites.Toggle(r.Context(), debtorID)
	if err != nil {
		h.logger.Warnw("toggling favorite failed", "debtor_id", debtorID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "favorite update failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"favorite": fav})
}

type calendarDay struct {
	Date  string     `json:"date"`
	Debts []debtView `json:"debts"`
}

type calendarView struct {
	Year        int           `json:"year"`
	Month       int           `json:"month"`
	TotalDue    int64         `json:"total_due"`
	TotalDueSum string        `json:"total_due_sum"`
	Days        []calendarDay `json:"days"`
}

// Calendar returns the month's obligations: the header total plus the
// per-day breakdown of active debts whose next payment lands in the month.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil || year < 1 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid year"})
		return
	}
	monthNum, err := strconv.Atoi(r.PathValue("month"))
	if err != nil || monthNum < 1 || monthNum > 12 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid month"})
		return
	}
	month := time.Month(monthNum)
	ctx := r.Context()

	var all []Debt
	debtors, err := h.source.ListDebtors(ctx)
	if err != nil {
		h.logger.Warnw("listing debtors for calendar failed, serving empty month", "err", err)
		debtors = nil
	}
	for _, d := range debtors {
		debts, err := h.source.ListDebts(ctx, d.ID)
		if err != nil {
			h.logger.Warnw("listing debts for calendar failed", "debtor_id", d.ID, "err", err)
			continue
		}
		all = append(all, debts...)
	}

	view := calendarView{
		Year:     year,
		Month:    monthNum,
		TotalDue: h.agg.TotalDueInMonth(all, year, month),
	}
	view.TotalDueSum = FormatSum(view.TotalDue)

	daysIn := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	for day := 1; day <= daysIn; day++ {
		date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		due := h.agg.DueOnDate(all, date)
		if len(due) == 0 {
			continue
		}
		cd := calendarDay{Date: date.Format("2006-01-02")}
		for _, d := range due {
			out := h.agg.OutstandingBalance(d)
			cd.Debts = append(cd.Debts, debtView{
				Debt:           d,
				Outstanding:    out,
				OutstandingSum: FormatSum(out),
				Progress:       h.agg.ProgressRatio(d),
			})
		}
		view.Days = append(view.Days, cd)
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
