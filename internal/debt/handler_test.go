package debt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/takedaservice/nasiya/merchant-core-go/internal/debt/repo"
)

type stubSource struct {
	debtors []Debtor
	debts   map[string][]Debt
	fail    bool
}

func (s *stubSource) ListDebtors(ctx context.Context) ([]Debtor, error) {
	if s.fail {
		return nil, errors.New("backend down")
	}
	return s.debtors, nil
}

func (s *stubSource) ListDebts(ctx context.Context, debtorID string) ([]Debt, error) {
	if s.fail {
		return nil, errors.New("backend down")
	}
	return s.debts[debtorID], nil
}

func newTestFavorites(t *testing.T) *repo.FavoritesRepo {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "debt-handler-test-*.db")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	tmpfile.Close()
	os.Remove(tmpfile.Name())

	db, err := sqlx.Open("sqlite3", tmpfile.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpfile.Name())
	})
	favorites := repo.NewFavoritesRepo(db)
	if err := favorites.EnsureTable(context.Background()); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	return favorites
}

func newTestHandler(t *testing.T, source Source) (*Handler, *repo.FavoritesRepo) {
	t.Helper()
	favorites := newTestFavorites(t)
	logger := zap.NewNop().Sugar()
	return NewHandler(source, NewAggregator(logger), favorites, logger), favorites
}

func TestListDebtorsSortedWithFavorites(t *testing.T) {
	source := &stubSource{
		debtors: []Debtor{
			{ID: "a", FullName: "Bek"},
			{ID: "b", FullName: "Anvar"},
		},
		debts: map[string][]Debt{
			"a": {{ID: "d1", DebtorID: "a", TotalSum: 10000, PaidSum: 0}},
			"b": {{ID: "d2", DebtorID: "b", TotalSum: 50000, PaidSum: 0}},
		},
	}
	h, favorites := newTestHandler(t, source)

	// no favorites: descending outstanding
	rec := httptest.NewRecorder()
	h.ListDebtors(rec, httptest.NewRequest(http.MethodGet, "/debtors", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []debtorView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].ID != "b" || views[1].ID != "a" {
		t.Fatalf("order = %+v", views)
	}
	if views[0].TotalOutstanding != 50000 || views[0].TotalOutstandingSum != "500.00" {
		t.Fatalf("outstanding = %+v", views[0])
	}

	// favoriting the smaller debtor moves it first
	if err := favorites.Set(context.Background(), "a", true); err != nil {
		t.Fatalf("favorite: %v", err)
	}
	rec = httptest.NewRecorder()
	h.ListDebtors(rec, httptest.NewRequest(http.MethodGet, "/debtors", nil))
	views = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &views)
	if views[0].ID != "a" || !views[0].Favorite {
		t.Fatalf("favorite order = %+v", views)
	}
}

func TestListDebtorsDegradesToEmptyOnBackendFailure(t *testing.T) {
	h, _ := newTestHandler(t, &stubSource{fail: true})

	rec := httptest.NewRecorder()
	h.ListDebtors(rec, httptest.NewRequest(http.MethodGet, "/debtors", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want degraded 200", rec.Code)
	}
	var views []debtorView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("views = %+v, want empty", views)
	}
}

func TestListDebtsWithProgress(t *testing.T) {
	source := &stubSource{
		debts: map[string][]Debt{
			"a": {
				{ID: "d1", DebtorID: "a", TotalSum: 100000, PaidSum: 40000},
				{ID: "d2", DebtorID: "a", TotalSum: 50000, PaidSum: 50000},
			},
		},
	}
	h, _ := newTestHandler(t, source)

	req := httptest.NewRequest(http.MethodGet, "/debtors/a/debts", nil)
	req.SetPathValue("id", "a")
	rec := httptest.NewRecorder()
	h.ListDebts(rec, req)

	var views []debtView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %+v", views)
	}
	if views[0].Outstanding != 60000 || views[0].Progress != 0.4 {
		t.Fatalf("derived fields = %+v", views[0])
	}
	if views[1].Outstanding != 0 || views[1].Progress != 1 {
		t.Fatalf("paid debt fields = %+v", views[1])
	}
}

func TestCalendarMonth(t *testing.T) {
	june5 := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	source := &stubSource{
		debtors: []Debtor{{ID: "a", FullName: "Bek"}},
		debts: map[string][]Debt{
			"a": {
				{ID: "d1", DebtorID: "a", Status: StatusActive, NextPaymentDate: june5, TotalSum: 100000, PaidSum: 40000},
				{ID: "d2", DebtorID: "a", Status: StatusActive, NextPaymentDate: june5.AddDate(0, 1, 0), TotalSum: 70000},
			},
		},
	}
	h, _ := newTestHandler(t, source)

	req := httptest.NewRequest(http.MethodGet, "/calendar/2025/6", nil)
	req.SetPathValue("year", "2025")
	req.SetPathValue("month", "6")
	rec := httptest.NewRecorder()
	h.Calendar(rec, req)

	var view calendarView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.TotalDue != 60000 {
		t.Fatalf("total due = %d", view.TotalDue)
	}
	if len(view.Days) != 1 || view.Days[0].Date != "2025-06-05" {
		t.Fatalf("days = %+v", view.Days)
	}
}
