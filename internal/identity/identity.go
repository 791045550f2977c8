// Package identity resolves handles to account identifiers.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/presence"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

type Resolver struct {
	presence *presence.Registry
	accounts store.AccountStore
}

func NewResolver(p *presence.Registry, accounts store.AccountStore) *Resolver {
	return &Resolver{presence: p, accounts: accounts}
}

// Resolve returns the account id for handle. The account id a live session
// registered with is preferred; otherwise the account store is consulted.
// Unknown handles yield ok=false and a nil error.
func (r *Resolver) Resolve(ctx context.Context, handle string) (accountID string, ok bool, err error) {
	h := presence.NormalizeHandle(handle)
	if h == "" {
		return "", false, nil
	}
	if r.presence != nil {
		if e, found := r.presence.Lookup(h); found && e.AccountID != "" {
			return e.AccountID, true, nil
		}
	}
	if r.accounts == nil {
		return "", false, nil
	}

	acct, err := r.accounts.FindAccountByHandle(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find account %q: %w", h, err)
	}
	if acct.ID == "" {
		return "", false, nil
	}
	return acct.ID, true, nil
}
