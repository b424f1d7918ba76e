package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/takedaservice/nasiya/merchant-core-go/internal/debt"
	"github.com/takedaservice/nasiya/merchant-core-go/pkg/utilities"
)

// sentinel errors for common failure modes
var (
	// ErrBadCredentials covers every non-2xx login response; the backend's
	// distinguishing detail is deliberately not surfaced.
	ErrBadCredentials = errors.New("invalid credentials")
	ErrUnauthorized   = errors.New("unauthorized")
)

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	PageSize int
}

// ConfigFromEnv reads backend client config from environment variables.
func ConfigFromEnv() Config {
	base := os.Getenv("API_BASE_URL")
	if base == "" {
		base = "https://nasiya.takedaservice.uz/api"
	}
	size := 50
	if v := os.Getenv("API_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	return Config{BaseURL: base, Timeout: 10 * time.Second, PageSize: size}
}

// TokenStore is the slice of persisted session state the client needs:
// reading the bearer token, and rotating the access token after a refresh.
// The session authority remains the only writer of the underlying keys.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
}

// Client talks to the nasiya backend. Every request carries a KSUID
// correlation ID; requests that come back 401 are retried once after a
// refresh-token exchange.
type Client struct {
	http   *http.Client
	base   string
	page   int
	tokens TokenStore
	logger *zap.SugaredLogger
}

func NewClient(cfg Config, tokens TokenStore, logger *zap.SugaredLogger) *Client {
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		base:   cfg.BaseURL,
		page:   cfg.PageSize,
		tokens: tokens,
		logger: logger,
	}
}

// Identity is the backend's user record attached to a login response.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
}

// LoginResult carries the issued token pair and the authenticated identity.
type LoginResult struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         Identity `json:"user"`
}

type loginRequest struct {
	Login          string `json:"login"`
	HashedPassword string `json:"hashed_password"`
}

// Login exchanges credentials for a token pair. Any non-2xx response is
// ErrBadCredentials regardless of what the backend actually complained
// about.
func (c *Client) Login(ctx context.Context, login, hashedPassword string) (*LoginResult, error) {
	body, _ := json.Marshal(loginRequest{Login: login, HashedPassword: hashedPassword})
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debugw("login rejected", "status", resp.StatusCode)
		return nil, ErrBadCredentials
	}
	var out LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, ErrBadCredentials
	}
	return &out, nil
}

// Logout notifies the backend that the session ended. Best effort only: the
// caller clears local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// RefreshAccessToken exchanges the persisted refresh token for a new access
// token and stores it.
func (c *Client) RefreshAccessToken(ctx context.Context) error {
	rt, err := c.tokens.RefreshToken(ctx)
	if err != nil || rt == "" {
		return ErrUnauthorized
	}
	body, _ := json.Marshal(refreshRequest{RefreshToken: rt})
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/refresh-token", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrUnauthorized
	}
	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return ErrUnauthorized
	}
	return c.tokens.SetAccessToken(ctx, out.AccessToken)
}

// debtorPayload is the backend's debtor wire shape.
type debtorPayload struct {
	ID           string   `json:"id"`
	FullName     string   `json:"full_name"`
	Address      string   `json:"address"`
	PhoneNumbers []string `json:"phone_numbers"`
	Store        string   `json:"store"`
}

// debtPayload is the backend's debt wire shape. Sums arrive as decimal
// strings; only the total/paid pair shape is supported, the pre-migration
// flat debt_sum form is not.
type debtPayload struct {
	ID              string   `json:"id"`
	DebtorID        string   `json:"debtor_id"`
	PrincipalSum    string   `json:"principal_sum"`
	TotalSum        string   `json:"total_debt_sum"`
	PaidSum         string   `json:"paid_sum"`
	PeriodMonths    int      `json:"debt_period"`
	NextPaymentDate string   `json:"next_payment_date"`
	Description     string   `json:"description"`
	Status          string   `json:"status"`
	Images          []string `json:"images"`
}

// ListDebtors pages through GET /debtor until a short page is returned.
func (c *Client) ListDebtors(ctx context.Context) ([]debt.Debtor, error) {
	var out []debt.Debtor
	for skip := 0; ; skip += c.page {
		var page []debtorPayload
		path := fmt.Sprintf("/debtor?skip=%d&take=%d", skip, c.page)
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, p := range page {
			out = append(out, debt.Debtor{
				ID:           p.ID,
				FullName:     p.FullName,
				Address:      p.Address,
				PhoneNumbers: p.PhoneNumbers,
				Store:        p.Store,
			})
		}
		if len(page) < c.page {
			return out, nil
		}
	}
}

// ListDebts pages through GET /debts for one debtor. Unparseable sums fail
// the record, not the listing.
func (c *Client) ListDebts(ctx context.Context, debtorID string) ([]debt.Debt, error) {
	var out []debt.Debt
	for skip := 0; ; skip += c.page {
		var page []debtPayload
		path := fmt.Sprintf("/debts?debtor_id=%s&skip=%d&take=%d",
			url.QueryEscape(debtorID), skip, c.page)
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, p := range page {
			d, err := c.toDebt(p)
			if err != nil {
				c.logger.Warnw("skipping malformed debt record", "debt_id", p.ID, "err", err)
				continue
			}
			out = append(out, d)
		}
		if len(page) < c.page {
			return out, nil
		}
	}
}

func (c *Client) toDebt(p debtPayload) (debt.Debt, error) {
	principal, err := debt.ParseSum(p.PrincipalSum)
	if err != nil {
		return debt.Debt{}, err
	}
	total, err := debt.ParseSum(p.TotalSum)
	if err != nil {
		return debt.Debt{}, err
	}
	paid, err := debt.ParseSum(p.PaidSum)
	if err != nil {
		return debt.Debt{}, err
	}
	var next time.Time
	if p.NextPaymentDate != "" {
		next, err = time.Parse("2006-01-02", p.NextPaymentDate)
		if err != nil {
			return debt.Debt{}, fmt.Errorf("parse next payment date: %w", err)
		}
	}
	status := debt.DebtStatus(p.Status)
	if status != debt.StatusActive && status != debt.StatusClosed {
		status = debt.StatusActive
	}
	return debt.Debt{
		ID:              p.ID,
		DebtorID:        p.DebtorID,
		PrincipalSum:    principal,
		TotalSum:        total,
		PaidSum:         paid,
		PeriodMonths:    p.PeriodMonths,
		NextPaymentDate: next,
		Description:     p.Description,
		Status:          status,
		Images:          p.Images,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.doAuthorized(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// doAuthorized performs a bearer-authorized request, retrying exactly once
// through a token refresh when the backend answers 401.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := c.doOnce(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()
	if err := c.RefreshAccessToken(ctx); err != nil {
		return nil, err
	}
	return c.doOnce(ctx, method, path, body)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = c.newRequest(ctx, method, path, bytes.NewReader(body))
	} else {
		req, err = c.newRequest(ctx, method, path, nil)
	}
	if err != nil {
		return nil, err
	}
	tok, err := c.tokens.AccessToken(ctx)
	if err == nil && tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.logger.Debugw("backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
		"request_id", req.Header.Get("X-Request-Id"),
	)
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-Id", utilities.NewRequestID())
	return req, nil
}
