package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	AWSv4Prefix = "AWS4-HMAC-SHA256 "

	// UnsignedPayload may be sent as X-Amz-Content-Sha256 when the body is
	// not part of the signature.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	amzDateFormat  = "20060102T150405Z"
	dateFormat     = "20060102"
	scopeTerminal  = "aws4_request"
	defaultMaxSkew = 15 * time.Minute
)

// AwsHmacAuthEngine verifies AWS Signature V4 signed requests, so the API can
// be called with curl --aws-sigv4 or any S3 style signer.
type AwsHmacAuthEngine struct {
	AccessKeyID     string
	SecretAccessKey string

	// MaxSkew bounds the distance between X-Amz-Date and the server clock.
	// Zero disables the check.
	MaxSkew time.Duration

	now func() time.Time
}

// NewAwsHmacAuthEngine creates a new AwsHmacAuthEngine with the given access key ID
// and secret access key.
func NewAwsHmacAuthEngine(accessKeyID string, secretAccessKey string) *AwsHmacAuthEngine {
	return &AwsHmacAuthEngine{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		MaxSkew:         defaultMaxSkew,
		now:             time.Now,
	}
}

func awsURLEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

func canonicalQueryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, awsURLEncode(k, true)+"="+awsURLEncode(v, true))
		}
	}
	return strings.Join(parts, "&")
}

func headerValue(r *http.Request, name string) string {
	var value string
	if name == "host" {
		value = r.Host
		if value == "" {
			value = r.URL.Host
		}
	} else {
		value = r.Header.Get(name)
	}
	return strings.Join(strings.Fields(value), " ")
}

// canonicalRequest builds the SigV4 canonical request for r over the given
// lower case header names.
func canonicalRequest(r *http.Request, signedHeaders []string, payloadHash string) string {
	var headers strings.Builder
	for _, name := range signedHeaders {
		headers.WriteString(name)
		headers.WriteString(":")
		headers.WriteString(headerValue(r, name))
		headers.WriteString("\n")
	}

	return strings.Join([]string{
		r.Method,
		awsURLEncode(r.URL.EscapedPath(), false),
		canonicalQueryString(r.URL),
		headers.String(),
		strings.Join(signedHeaders, ";"),
		payloadHash,
	}, "\n")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// signature computes the SigV4 signature of canonical under the given scope.
func signature(secret string, amzDate string, dateStamp string, region string, service string, canonical string) []byte {
	crHash := sha256.Sum256([]byte(canonical))
	scope := strings.Join([]string{dateStamp, region, service, scopeTerminal}, "/")
	stringToSign := strings.Join([]string{
		strings.TrimSpace(AWSv4Prefix),
		amzDate,
		scope,
		hex.EncodeToString(crHash[:]),
	}, "\n")

	key := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	key = hmacSHA256(key, region)
	key = hmacSHA256(key, service)
	key = hmacSHA256(key, scopeTerminal)
	return hmacSHA256(key, stringToSign)
}

// SignRequest signs r in place with the host, x-amz-content-sha256 and
// x-amz-date headers. The payload is left unsigned unless the caller set
// X-Amz-Content-Sha256 beforehand.
func SignRequest(r *http.Request, accessKeyID string, secretAccessKey string, region string, service string, now time.Time) {
	now = now.UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateFormat)

	if r.Host == "" {
		r.Host = r.URL.Host
	}
	if r.Header.Get("X-Amz-Content-Sha256") == "" {
		r.Header.Set("X-Amz-Content-Sha256", UnsignedPayload)
	}
	r.Header.Set("X-Amz-Date", amzDate)

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	canonical := canonicalRequest(r, signedHeaders, r.Header.Get("X-Amz-Content-Sha256"))
	sig := signature(secretAccessKey, amzDate, dateStamp, region, service, canonical)

	credential := strings.Join([]string{accessKeyID, dateStamp, region, service, scopeTerminal}, "/")
	r.Header.Set("Authorization", AWSv4Prefix+strings.Join([]string{
		"Credential=" + credential,
		"SignedHeaders=" + strings.Join(signedHeaders, ";"),
		"Signature=" + hex.EncodeToString(sig),
	}, ", "))
}

type sigV4Authorization struct {
	accessKeyID   string
	dateStamp     string
	region        string
	service       string
	signedHeaders []string
	signature     []byte
}

func parseSigV4Authorization(header string) (sigV4Authorization, bool) {
	params := strings.TrimSpace(strings.TrimPrefix(header, AWSv4Prefix))

	kv := make(map[string]string, 3)
	for _, p := range strings.Split(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && k != "" {
			kv[k] = strings.TrimSpace(v)
		}
	}

	credParts := strings.Split(kv["Credential"], "/")
	if len(credParts) != 5 || credParts[4] != scopeTerminal || credParts[2] == "" || credParts[3] == "" {
		return sigV4Authorization{}, false
	}

	sig, err := hex.DecodeString(kv["Signature"])
	if err != nil || len(sig) == 0 || kv["SignedHeaders"] == "" {
		return sigV4Authorization{}, false
	}

	signedHeaders := strings.Split(strings.ToLower(kv["SignedHeaders"]), ";")
	return sigV4Authorization{
		accessKeyID:   credParts[0],
		dateStamp:     credParts[1],
		region:        credParts[2],
		service:       credParts[3],
		signedHeaders: signedHeaders,
		signature:     sig,
	}, true
}

// AuthenticateRequest verifies the SigV4 Authorization header of r.
func (e *AwsHmacAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, AWSv4Prefix) {
		return nil, nil
	}

	authz, ok := parseSigV4Authorization(header)
	if !ok || authz.accessKeyID != e.AccessKeyID {
		return nil, ErrInvalidCredentials
	}

	amzDate := r.Header.Get("X-Amz-Date")
	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if amzDate == "" || payloadHash == "" || !strings.HasPrefix(amzDate, authz.dateStamp) {
		return nil, ErrInvalidCredentials
	}

	if e.MaxSkew > 0 {
		signedAt, err := time.Parse(amzDateFormat, amzDate)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		now := time.Now
		if e.now != nil {
			now = e.now
		}
		if skew := now().Sub(signedAt).Abs(); skew > e.MaxSkew {
			return nil, ErrInvalidCredentials
		}
	}

	canonical := canonicalRequest(r, authz.signedHeaders, payloadHash)
	expected := signature(e.SecretAccessKey, amzDate, authz.dateStamp, authz.region, authz.service, canonical)
	if !hmac.Equal(expected, authz.signature) {
		return nil, ErrInvalidCredentials
	}

	return &User{AccessKeyID: authz.accessKeyID}, nil
}
