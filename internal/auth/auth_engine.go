// Package auth authenticates requests to the attic HTTP API. Clients either
// send HTTP Basic credentials or sign requests with AWS Signature V4 using
// the same access key pair.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrInvalidCredentials is returned when a request carries credentials in a
// scheme an engine understands but they do not verify.
var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	AccessKeyID string
}

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for valid
	// authentication credentials. If valid, it returns a User object. It
	// returns nil and no error when the request does not use the engine's
	// scheme, and ErrInvalidCredentials when it does but fails to verify.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (*User, error)
}
