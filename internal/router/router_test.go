package router

import (
	"bytes"
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

	"github.com/takedaservice/nasiya/merchant-core-go/internal/api"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/connectivity"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/debt"
	debtrepo "github.com/takedaservice/nasiya/merchant-core-go/internal/debt/repo"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/session"
	"github.com/takedaservice/nasiya/merchant-core-go/pkg/localstore"
)

type staticProber struct{ online bool }

func (p staticProber) Online(ctx context.Context) bool { return p.online }

type stubSource struct {
	debtors []debt.Debtor
	debts   map[string][]debt.Debt
}

func (s *stubSource) ListDebtors(ctx context.Context) ([]debt.Debtor, error) {
	if s.debtors == nil {
		return nil, errors.New("no data")
	}
	return s.debtors, nil
}

func (s *stubSource) ListDebts(ctx context.Context, debtorID string) ([]debt.Debt, error) {
	return s.debts[debtorID], nil
}

// newTestGateway wires the full local surface against a stubbed backend and
// returns the gateway server.
func newTestGateway(t *testing.T, online bool) *httptest.Server {
	t.Helper()

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["hashed_password"] != "right" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"accessToken":  "acc",
				"refreshToken": "ref",
				"user":         map[string]string{"id": "1", "username": "merchant", "role": "owner"},
			})
		case "/auth/logout":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(backendSrv.Close)

	tmpfile, err := os.CreateTemp("", "gateway-test-*.db")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	tmpfile.Close()
	os.Remove(tmpfile.Name())
	store, err := localstore.Open(localstore.Config{Path: tmpfile.Name(), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.Remove(tmpfile.Name())
	})

	logger := zap.NewNop().Sugar()
	backend := api.NewClient(api.Config{BaseURL: backendSrv.URL, Timeout: 2 * time.Second, PageSize: 10},
		session.NewTokenStore(store), logger)
	monitor := connectivity.NewMonitor(connectivity.Config{Interval: time.Minute},
		staticProber{online: online}, nil, logger)
	authority := session.NewAuthority(session.ConfigFromEnv(), store, backend, nil, nil, logger)
	t.Cleanup(authority.Close)
	authority.RestoreSession(context.Background())

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open favorites db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	favorites := debtrepo.NewFavoritesRepo(db)
	if err := favorites.EnsureTable(context.Background()); err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	source := &stubSource{
		debtors: []debt.Debtor{{ID: "a", FullName: "Bek"}},
		debts: map[string][]debt.Debt{
			"a": {{ID: "d1", DebtorID: "a", TotalSum: 10000, PaidSum: 5000}},
		},
	}
	debtHandler := debt.NewHandler(source, debt.NewAggregator(logger), favorites, logger)
	sessionHandler := session.NewHandler(authority, monitor, logger)

	handler := RegisterRoutes(logger, sessionHandler, debtHandler, authority, monitor)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestGatewayGatesProtectedRoutesInOrder(t *testing.T) {
	srv := newTestGateway(t, true)

	// closed credential gate
	resp, err := http.Get(srv.URL + "/debtors")
	if err != nil {
		t.Fatalf("get debtors: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}

	// wrong credentials
	resp = postJSON(t, srv.URL+"/session/login", map[string]string{"username": "merchant", "password": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", resp.StatusCode)
	}

	// credential gate opens
	resp = postJSON(t, srv.URL+"/session/login", map[string]string{"username": "merchant", "password": "right"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	// pin gate still closed
	resp, _ = http.Get(srv.URL + "/debtors")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("pin-gated status = %d", resp.StatusCode)
	}

	// set up and pass the pin gate
	resp = postJSON(t, srv.URL+"/session/pin", map[string]string{"pin": "1111"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set pin status = %d", resp.StatusCode)
	}
	resp = postJSON(t, srv.URL+"/session/pin/verify", map[string]string{"pin": "1111"})
	var verify struct {
		Verified bool `json:"verified"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&verify)
	resp.Body.Close()
	if !verify.Verified {
		t.Fatal("pin not verified")
	}

	// both gates open
	resp, _ = http.Get(srv.URL + "/debtors")
	var views []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&views)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(views) != 1 {
		t.Fatalf("debtors status=%d views=%v", resp.StatusCode, views)
	}

	// logout closes everything again
	resp = postJSON(t, srv.URL+"/session/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, _ = http.Get(srv.URL + "/debtors")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-logout status = %d", resp.StatusCode)
	}
}

func TestGatewayRefusesLoginWhileOffline(t *testing.T) {
	srv := newTestGateway(t, false)

	resp := postJSON(t, srv.URL+"/session/login", map[string]string{"username": "merchant", "password": "right"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("offline login status = %d", resp.StatusCode)
	}
}

func TestGatewayConnectivityEndpoint(t *testing.T) {
	srv := newTestGateway(t, true)

	resp, err := http.Get(srv.URL + "/connectivity")
	if err != nil {
		t.Fatalf("get connectivity: %v", err)
	}
	defer resp.Body.Close()
	var state struct {
		IsOnline bool `json:"is_online"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !state.IsOnline {
		t.Fatal("connectivity endpoint reports offline")
	}
}
