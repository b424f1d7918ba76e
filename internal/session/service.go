package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/takedaservice/nasiya/merchant-core-go/internal/api"
	"github.com/takedaservice/nasiya/merchant-core-go/pkg/localstore"
)

// Notifier surfaces user-visible messages. The UI shell plugs in its toast
// mechanism; the default just logs.
type Notifier interface {
	Notify(title, message string)
}

type logNotifier struct{ logger *zap.SugaredLogger }

func (n logNotifier) Notify(title, message string) {
	n.logger.Infow("user notification", "title", title, "message", message)
}

type Config struct {
	ShortLockThreshold int
	LongLockThreshold  int
	ShortLockDuration  time.Duration
	LongLockDuration   time.Duration
}

// ConfigFromEnv reads PIN lockout knobs from env vars, with the stock
// 4-attempt / 30s and 8-attempt / 3m defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		ShortLockThreshold: 4,
		LongLockThreshold:  8,
		ShortLockDuration:  30 * time.Second,
		LongLockDuration:   3 * time.Minute,
	}
	if v := os.Getenv("PIN_SHORT_LOCK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ShortLockDuration = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PIN_LONG_LOCK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LongLockDuration = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// Authority owns the two ordered authentication gates: the credential gate
// backed by the remote backend, and the local PIN gate with attempt
// throttling. It is the only writer of the persisted session keys.
type Authority struct {
	mu       sync.Mutex
	cfg      Config
	clock    clockwork.Clock
	store    *localstore.Store
	backend  *api.Client
	notifier Notifier
	logger   *zap.SugaredLogger

	state Session

	subs    map[int]chan Snapshot
	nextSub int

	countdownStop chan struct{}

	loadedOnce sync.Once
}

func NewAuthority(cfg Config, store *localstore.Store, backend *api.Client, notifier Notifier, clock clockwork.Clock, logger *zap.SugaredLogger) *Authority {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	return &Authority{
		cfg:      cfg,
		clock:    clock,
		store:    store,
		backend:  backend,
		notifier: notifier,
		logger:   logger,
		state:    Session{Loading: true},
		subs:     make(map[int]chan Snapshot),
	}
}

// Subscribe registers a state observer. The returned func unsubscribes.
// Snapshots are published on every state change and every second while a
// lockout is counting down; slow consumers miss intermediate snapshots
// rather than blocking the authority.
func (a *Authority) Subscribe() (<-chan Snapshot, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	ch := make(chan Snapshot, 16)
	a.subs[id] = ch
	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
	}
}

// State returns the current read-only projection.
func (a *Authority) State() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// RestoreSession runs once at startup. A persisted, unexpired access token
// restores the credential gate; a session-scoped pin-verified flag restores
// the PIN gate on top of it. Corrupt or expired persisted state clears all
// credential keys and leaves the session unauthenticated. Never fails, and
// always ends with loading marked complete exactly once.
func (a *Authority) RestoreSession(ctx context.Context) {
	defer a.loadedOnce.Do(func() {
		a.mu.Lock()
		a.state.Loading = false
		a.publishLocked()
		a.mu.Unlock()
	})

	token, err := a.store.Durable().Get(ctx, localstore.KeyAccessToken)
	if err != nil {
		a.logger.Warnw("session restore read failed", "err", err)
		a.clearCredentialState(ctx)
		return
	}
	if token == "" {
		return
	}

	ident, err := a.identityFromToken(ctx, token)
	if err != nil {
		a.logger.Infow("persisted session rejected", "reason", err)
		a.clearCredentialState(ctx)
		return
	}

	a.mu.Lock()
	a.state.CredentialAuthenticated = true
	a.state.User = ident
	if a.store.Session().Get(localstore.KeyPinVerified) == "true" {
		// credential gate is confirmed above, so the ordering invariant holds
		a.state.PinAuthenticated = true
	}
	a.publishLocked()
	a.mu.Unlock()
}

// identityFromToken checks the persisted access token's exp claim locally
// (the backend owns the signing key; an expired token is downgraded without
// a network round-trip) and hydrates identity from the persisted user blob,
// falling back to token claims.
func (a *Authority) identityFromToken(ctx context.Context, token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("unparseable access token: %w", err)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if a.clock.Now().After(exp.Time) {
			return nil, fmt.Errorf("access token expired at %s", exp.Time)
		}
	}

	blob, err := a.store.Durable().Get(ctx, localstore.KeyUser)
	if err != nil {
		return nil, err
	}
	if blob != "" {
		var ident Identity
		if err := json.Unmarshal([]byte(blob), &ident); err != nil {
			return nil, fmt.Errorf("corrupt user blob: %w", err)
		}
		return &ident, nil
	}

	ident := &Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		ident.ID = sub
	}
	if v, ok := claims["username"].(string); ok {
		ident.Username = v
	}
	if v, ok := claims["role"].(string); ok {
		ident.Role = v
	}
	return ident, nil
}

func (a *Authority) clearCredentialState(ctx context.Context) {
	if err := a.store.ClearCredentials(ctx); err != nil {
		a.logger.Warnw("clearing credential state failed", "err", err)
	}
	a.mu.Lock()
	a.state.CredentialAuthenticated = false
	a.state.PinAuthenticated = false
	a.state.User = nil
	a.publishLocked()
	a.mu.Unlock()
}

// Login exchanges credentials with the backend. Failures are converted to a
// generic notification and a false return; no error ever reaches the
// caller. Empty inputs are tolerated and simply rejected by the backend.
func (a *Authority) Login(ctx context.Context, username, password string) bool {
	res, err := a.backend.Login(ctx, username, password)
	if err != nil {
		a.logger.Debugw("login failed", "err", err)
		a.notifier.Notify("Login failed", "Invalid username or password")
		return false
	}

	// persistence is best effort: a failed write costs the restored session
	// after restart, not the live one
	if err := a.store.Durable().Set(ctx, localstore.KeyAccessToken, res.AccessToken); err != nil {
		a.logger.Warnw("persisting access token failed", "err", err)
	}
	if err := a.store.Durable().Set(ctx, localstore.KeyRefreshToken, res.RefreshToken); err != nil {
		a.logger.Warnw("persisting refresh token failed", "err", err)
	}
	if blob, err := json.Marshal(res.User); err == nil {
		if err := a.store.Durable().Set(ctx, localstore.KeyUser, string(blob)); err != nil {
			a.logger.Warnw("persisting user failed", "err", err)
		}
	}

	a.mu.Lock()
	a.state.CredentialAuthenticated = true
	a.state.User = &Identity{
		ID:       res.User.ID,
		Username: res.User.Username,
		Role:     res.User.Role,
		Name:     res.User.Name,
	}
	a.publishLocked()
	a.mu.Unlock()
	return true
}

// SetPin stores a salted hash of a new 4-digit quick-unlock code in the
// durable scope. The PIN gate stays inert until a code has been set up.
func (a *Authority) SetPin(ctx context.Context, pin string) error {
	if len(pin) != 4 {
		return fmt.Errorf("pin must be 4 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("pin must be 4 digits")
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	return a.store.Durable().Set(ctx, localstore.KeyPinHash, string(hash))
}

// VerifyPin evaluates one PIN attempt against the stored hash.
//
// Attempts made during an active lockout are rejected outright and not
// counted, a correct code included. An expired lockout is cleared lazily on
// the next attempt; the attempt counter keeps running until a correct code
// or an administrative reset zeroes it, so the thresholds are re-evaluated
// fresh on every failure: reaching 8 locks for the long duration, reaching
// 4 (and every failure after it until 8) re-locks for the short one.
func (a *Authority) VerifyPin(candidate string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	// the PIN screen is only reachable behind the credential gate; keep the
	// ordering even if a caller bypasses the screen
	if !a.state.CredentialAuthenticated {
		return false
	}

	now := a.clock.Now()
	if a.state.LockedUntil != nil {
		if now.Before(*a.state.LockedUntil) {
			return false
		}
		a.state.LockedUntil = nil
		a.stopCountdownLocked()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	hash, err := a.store.Durable().Get(ctx, localstore.KeyPinHash)
	cancel()
	if err != nil || hash == "" {
		a.logger.Warnw("pin verification without a stored pin", "err", err)
		return false
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil {
		a.state.PinAuthenticated = true
		a.state.PinAttempts = 0
		a.state.LockedUntil = nil
		a.stopCountdownLocked()
		a.store.Session().Set(localstore.KeyPinVerified, "true")
		a.publishLocked()
		return true
	}

	a.state.PinAttempts++
	switch {
	case a.state.PinAttempts >= a.cfg.LongLockThreshold:
		until := now.Add(a.cfg.LongLockDuration)
		a.state.LockedUntil = &until
		a.notifier.Notify("Too many incorrect attempts",
			fmt.Sprintf("Please try again after %s", a.cfg.LongLockDuration))
		a.startCountdownLocked()
	case a.state.PinAttempts >= a.cfg.ShortLockThreshold:
		until := now.Add(a.cfg.ShortLockDuration)
		a.state.LockedUntil = &until
		a.notifier.Notify("Too many incorrect attempts",
			fmt.Sprintf("Please try again after %s", a.cfg.ShortLockDuration))
		a.startCountdownLocked()
	}
	a.publishLocked()
	return false
}

// Logout tells the backend best-effort, then clears the durable tokens and
// the session-scoped pin flag together and resets the in-memory session.
// It never fails; a backend error only gets a log line.
func (a *Authority) Logout() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if a.backend != nil {
		if err := a.backend.Logout(ctx); err != nil {
			a.logger.Debugw("backend logout failed", "err", err)
		}
	}
	if err := a.store.ClearCredentials(ctx); err != nil {
		a.logger.Warnw("clearing credentials on logout failed", "err", err)
	}

	a.mu.Lock()
	a.state.CredentialAuthenticated = false
	a.state.PinAuthenticated = false
	a.state.User = nil
	a.publishLocked()
	a.mu.Unlock()
}

// ResetPinAttempts is the administrative escape hatch: zero the counter and
// clear any lockout unconditionally.
func (a *Authority) ResetPinAttempts() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.PinAttempts = 0
	a.state.LockedUntil = nil
	a.stopCountdownLocked()
	a.publishLocked()
}

// Close stops the countdown goroutine and closes subscriber channels.
func (a *Authority) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCountdownLocked()
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}

// startCountdownLocked runs a one-second ticker publishing the remaining
// lockout to subscribers. It stops itself the moment the lockout expires,
// so no ticker outlives the lockout window. Caller holds a.mu.
func (a *Authority) startCountdownLocked() {
	if a.countdownStop != nil {
		return
	}
	stop := make(chan struct{})
	a.countdownStop = stop
	go func() {
		ticker := a.clock.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				a.mu.Lock()
				if a.countdownStop != stop {
					// stopped and possibly restarted while we waited
					a.mu.Unlock()
					return
				}
				if a.state.LockedUntil == nil || !a.clock.Now().Before(*a.state.LockedUntil) {
					// natural expiry: the lockout clears, the counter keeps
					// its value until a correct code or an admin reset
					a.state.LockedUntil = nil
					a.countdownStop = nil
					a.publishLocked()
					a.mu.Unlock()
					return
				}
				a.publishLocked()
				a.mu.Unlock()
			}
		}
	}()
}

// stopCountdownLocked cancels a running countdown. Caller holds a.mu.
func (a *Authority) stopCountdownLocked() {
	if a.countdownStop == nil {
		return
	}
	close(a.countdownStop)
	a.countdownStop = nil
}

func (a *Authority) snapshotLocked() Snapshot {
	snap := Snapshot{
		CredentialAuthenticated: a.state.CredentialAuthenticated,
		PinAuthenticated:        a.state.PinAuthenticated,
		PinAttempts:             a.state.PinAttempts,
		Loading:                 a.state.Loading,
	}
	if a.state.User != nil {
		u := *a.state.User
		snap.User = &u
	}
	if a.state.LockedUntil != nil {
		t := *a.state.LockedUntil
		snap.LockedUntil = &t
		if rem := t.Sub(a.clock.Now()); rem > 0 {
			snap.LockoutRemaining = rem
		}
	}
	return snap
}

func (a *Authority) publishLocked() {
	snap := a.snapshotLocked()
	for _, ch := range a.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
