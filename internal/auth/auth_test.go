package auth_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attic/internal/auth"

	"github.com/stretchr/testify/require"
)

const (
	AccessKeyID     = "atticadmin"
	SecretAccessKey = "atticsecret"
)

func basicHeader(id, secret string) string {
	return auth.BasicAuthPrefix + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	e := auth.NewBasicAuthEngine(AccessKeyID, SecretAccessKey)
	ctx := context.Background()

	tests := []struct {
		name    string
		header  string
		wantOK  bool
		wantErr bool
	}{
		{name: "valid", header: basicHeader(AccessKeyID, SecretAccessKey), wantOK: true},
		{name: "wrong secret", header: basicHeader(AccessKeyID, "nope"), wantErr: true},
		{name: "wrong key", header: basicHeader("someone", SecretAccessKey), wantErr: true},
		{name: "not base64", header: auth.BasicAuthPrefix + "!!!", wantErr: true},
		{name: "missing colon", header: auth.BasicAuthPrefix + base64.StdEncoding.EncodeToString([]byte("nocolon")), wantErr: true},
		{name: "other scheme", header: "Bearer token"},
		{name: "absent"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "http://example.com/v1/orphans", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			user, err := e.AuthenticateRequest(ctx, req)
			if tc.wantErr {
				require.ErrorIs(t, err, auth.ErrInvalidCredentials)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.wantOK, user != nil, "user returned")
		})
	}
}

func TestRequireAuthentication_AWSSigV4_Succeeds(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(AccessKeyID, SecretAccessKey)
	require.NotNil(t, e, "expected AWS HMAC auth engine to be created")

	req := httptest.NewRequest(http.MethodPost, "http://example.com/v1/tiers/cache/a.jpg/move?to=permanent", nil)
	auth.SignRequest(req, AccessKeyID, SecretAccessKey, "us-east-1", "attic", time.Now())

	user, err := e.AuthenticateRequest(context.Background(), req)
	require.NoError(t, err, "expected AWS SigV4 authentication to succeed")
	require.NotNil(t, user, "expected non-nil user from successful AWS SigV4 authentication")
	require.Equal(t, AccessKeyID, user.AccessKeyID)
}

func TestRequireAuthentication_AWSSigV4_InvalidSignature(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/v1/orphans", nil)
	auth.SignRequest(req, AccessKeyID, SecretAccessKey, "us-east-1", "attic", time.Now())

	// Corrupt the signature.
	req.Header.Set("Authorization", req.Header.Get("Authorization")+"00")

	user, err := e.AuthenticateRequest(context.Background(), req)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "expected AWS SigV4 authentication to fail with invalid signature")
	require.Nil(t, user, "expected nil user from failed AWS SigV4 authentication")
}

func TestRequireAuthentication_AWSSigV4_TamperedRequest(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequest(http.MethodPost, "http://example.com/v1/tiers/cache/a.jpg/move?to=permanent", nil)
	auth.SignRequest(req, AccessKeyID, SecretAccessKey, "us-east-1", "attic", time.Now())
	req.URL.RawQuery = "to=backup"

	user, err := e.AuthenticateRequest(context.Background(), req)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "query is covered by the signature")
	require.Nil(t, user)
}

func TestRequireAuthentication_AWSSigV4_Skew(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/v1/orphans", nil)
	auth.SignRequest(req, AccessKeyID, SecretAccessKey, "us-east-1", "attic", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := e.AuthenticateRequest(context.Background(), req)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "stale signature rejected")

	e.MaxSkew = 0
	user, err := e.AuthenticateRequest(context.Background(), req)
	require.NoError(t, err, "skew check disabled")
	require.NotNil(t, user)
}

func TestCompoundAuthEngine(t *testing.T) {
	t.Parallel()

	e := auth.NewCompoundAuthEngine(
		auth.NewAwsHmacAuthEngine(AccessKeyID, SecretAccessKey),
		auth.NewBasicAuthEngine(AccessKeyID, SecretAccessKey),
	)
	ctx := context.Background()

	basic := httptest.NewRequest(http.MethodGet, "http://example.com/healthz", nil)
	basic.Header.Set("Authorization", basicHeader(AccessKeyID, SecretAccessKey))
	user, err := e.AuthenticateRequest(ctx, basic)
	require.NoError(t, err)
	require.NotNil(t, user, "basic credentials accepted")

	signed := httptest.NewRequest(http.MethodGet, "http://example.com/healthz", nil)
	auth.SignRequest(signed, AccessKeyID, SecretAccessKey, "us-east-1", "attic", time.Now())
	user, err = e.AuthenticateRequest(ctx, signed)
	require.NoError(t, err)
	require.NotNil(t, user, "signed request accepted")

	bad := httptest.NewRequest(http.MethodGet, "http://example.com/healthz", nil)
	bad.Header.Set("Authorization", basicHeader(AccessKeyID, "wrong"))
	user, err = e.AuthenticateRequest(ctx, bad)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	require.Nil(t, user)

	none := httptest.NewRequest(http.MethodGet, "http://example.com/healthz", nil)
	user, err = e.AuthenticateRequest(ctx, none)
	require.NoError(t, err, "no credentials is not an error")
	require.Nil(t, user)
}
