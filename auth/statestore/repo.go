package statestore

import (
	"context"
	"time"
)

// PendingLogin is the server-side half of an authorization request,
// kept between the redirect to the provider and the callback
type PendingLogin struct {
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
}

// Repo stores pending logins under a random login-session id.
// Take returns a login at most once; expired or unknown ids yield ErrNotFound.
type Repo interface {
	Put(ctx context.Context, id string, login PendingLogin, ttl time.Duration) error
	Take(ctx context.Context, id string) (*PendingLogin, error)
}
