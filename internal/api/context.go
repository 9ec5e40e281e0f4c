package api

import (
	"context"
	"errors"

	"github.com/hyperengineering/decksync/internal/multistore"
)

// userContextKey is the context key for the authenticated username.
type userContextKey struct{}

// deckContextKey is the context key for the resolved deck.
type deckContextKey struct{}

// ErrNoDeckInContext indicates no deck was found in the context.
var ErrNoDeckInContext = errors.New("no deck in context")

// WithUser returns a new context with the authenticated username attached.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the authenticated username, or "" if none.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey{}).(string)
	return user
}

// WithDeck returns a new context with the deck attached.
func WithDeck(ctx context.Context, d *multistore.ManagedDeck) context.Context {
	return context.WithValue(ctx, deckContextKey{}, d)
}

// DeckFromContext extracts the deck from the context.
// Returns ErrNoDeckInContext if not present or nil.
func DeckFromContext(ctx context.Context) (*multistore.ManagedDeck, error) {
	d, ok := ctx.Value(deckContextKey{}).(*multistore.ManagedDeck)
	if !ok || d == nil {
		return nil, ErrNoDeckInContext
	}
	return d, nil
}

// MustDeckFromContext extracts the deck or panics.
// Use only when middleware guarantees deck presence.
func MustDeckFromContext(ctx context.Context) *multistore.ManagedDeck {
	d, err := DeckFromContext(ctx)
	if err != nil {
		panic("deck not in context: middleware misconfiguration")
	}
	return d
}
