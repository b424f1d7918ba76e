package session

import (
	"context"

	"github.com/takedaservice/nasiya/merchant-core-go/pkg/localstore"
)

// TokenStore adapts the local store's durable scope to the api client's
// token interface. It lives in this package so every write to the persisted
// session keys stays under the session authority's roof; nothing else in
// the repo touches those keys directly.
type TokenStore struct {
	store *localstore.Store
}

func NewTokenStore(store *localstore.Store) *TokenStore {
	return &TokenStore{store: store}
}

func (t *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return t.store.Durable().Get(ctx, localstore.KeyAccessToken)
}

func (t *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	return t.store.Durable().Get(ctx, localstore.KeyRefreshToken)
}

func (t *TokenStore) SetAccessToken(ctx context.Context, token string) error {
	return t.store.Durable().Set(ctx, localstore.KeyAccessToken, token)
}
