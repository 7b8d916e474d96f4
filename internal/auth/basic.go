package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	BasicAuthPrefix = "Basic "
)

type BasicAuthEngine struct {
	AccessKeyID     string
	SecretAccessKey string
}

// NewBasicAuthEngine creates a new BasicAuthEngine with the given access key ID
// and secret access key.
func NewBasicAuthEngine(accessKeyID string, secretAccessKey string) *BasicAuthEngine {
	return &BasicAuthEngine{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	}
}

// AuthenticateRequest checks the Authorization header for valid Basic Auth
// credentials.
func (e *BasicAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, BasicAuthPrefix) {
		return nil, nil
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(BasicAuthPrefix):]))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	accessKeyID, secret, ok := strings.Cut(string(payload), ":")
	if !ok {
		return nil, ErrInvalidCredentials
	}

	idMatch := subtle.ConstantTimeCompare([]byte(accessKeyID), []byte(e.AccessKeyID))
	secretMatch := subtle.ConstantTimeCompare([]byte(secret), []byte(e.SecretAccessKey))
	if idMatch&secretMatch != 1 {
		return nil, ErrInvalidCredentials
	}

	return &User{AccessKeyID: accessKeyID}, nil
}
