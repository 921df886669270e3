// Package actor models the identity a mutation is attributed to: a human
// user or an API key. An Actor is never persisted on its own; its IDs are
// copied into the stamp fields of tracked entities and audit entries.
package actor

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/tally/pkg/contextkeys"
)

var (
	// ErrAmbiguousActor is returned when both a user and an API key are set.
	ErrAmbiguousActor = errors.New("actor cannot be both a user and an API key")

	// ErrNoActor is returned by resolvers that require an authenticated caller.
	ErrNoActor = errors.New("no actor resolved for request")
)

// Actor identifies who performed an operation. At most one of UserID and
// APIKeyID is set; the zero value is the system actor.
type Actor struct {
	UserID   *string `json:"user_id,omitempty"`
	APIKeyID *string `json:"api_key_id,omitempty"`
}

// User returns an actor for a human user.
func User(userID string) Actor {
	return Actor{UserID: &userID}
}

// APIKey returns an actor for an API key.
func APIKey(apiKeyID string) Actor {
	return Actor{APIKeyID: &apiKeyID}
}

// System returns the actor used for background maintenance.
func System() Actor {
	return Actor{}
}

// IsSystem reports whether neither a user nor an API key is set.
func (a Actor) IsSystem() bool {
	return a.UserID == nil && a.APIKeyID == nil
}

// Validate enforces that the user and API key stamps are mutually exclusive.
func (a Actor) Validate() error {
	if a.UserID != nil && a.APIKeyID != nil {
		return ErrAmbiguousActor
	}
	return nil
}

// String renders the actor for logs.
func (a Actor) String() string {
	switch {
	case a.UserID != nil:
		return fmt.Sprintf("user:%s", *a.UserID)
	case a.APIKeyID != nil:
		return fmt.Sprintf("api_key:%s", *a.APIKeyID)
	default:
		return "system"
	}
}

// Stamp returns copies of the two IDs so callers can store them without
// aliasing the actor.
func (a Actor) Stamp() (userID, apiKeyID *string) {
	if a.UserID != nil {
		v := *a.UserID
		userID = &v
	}
	if a.APIKeyID != nil {
		v := *a.APIKeyID
		apiKeyID = &v
	}
	return userID, apiKeyID
}

// Resolver supplies the actor for the in-flight operation.
type Resolver interface {
	Resolve(ctx context.Context) (Actor, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context) (Actor, error)

// Resolve calls f(ctx).
func (f ResolverFunc) Resolve(ctx context.Context) (Actor, error) {
	return f(ctx)
}

// WithActor stores a on the context for ContextResolver.
func WithActor(ctx context.Context, a Actor) context.Context {
	return contextkeys.WithActor(ctx, a)
}

// FromContext returns the actor stored on ctx, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextkeys.ActorKey).(Actor)
	return a, ok
}

// ContextResolver reads the actor placed on the request context by the
// authentication layer. When AllowSystem is false a missing actor is an error.
type ContextResolver struct {
	AllowSystem bool
}

// Resolve implements Resolver.
func (r ContextResolver) Resolve(ctx context.Context) (Actor, error) {
	a, ok := FromContext(ctx)
	if !ok {
		if r.AllowSystem {
			return System(), nil
		}
		return Actor{}, ErrNoActor
	}
	if err := a.Validate(); err != nil {
		return Actor{}, err
	}
	return a, nil
}
