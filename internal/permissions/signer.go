package permissions

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Authentication modes for calls to the permissions API
const (
	AuthModeNone   = "none"
	AuthModeSimple = "simple" // shared secret in a header
	AuthModeHMAC   = "hmac"   // HMAC-SHA256 over timestamp, method, path and body
)

const (
	defaultSecretHeader    = "X-API-Secret"
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Timestamp"
	defaultNonceHeader     = "X-Nonce"

	defaultSignatureMaxAge = 5 * time.Minute
)

// Signer authenticates outgoing requests to the permissions API.
type Signer struct {
	Mode         string
	Secret       string
	SecretHeader string // simple mode only
}

// ValidateAuthMode reports whether mode is a supported authentication mode.
func ValidateAuthMode(mode string) error {
	switch mode {
	case "", AuthModeNone, AuthModeSimple, AuthModeHMAC:
		return nil
	default:
		return fmt.Errorf("unsupported authentication mode: %q", mode)
	}
}

// Sign adds authentication headers for body to req.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	if s == nil {
		return nil
	}

	switch s.Mode {
	case "", AuthModeNone:
		return nil
	case AuthModeSimple:
		if s.Secret == "" {
			return errors.New("secret is required for simple authentication")
		}
		header := s.SecretHeader
		if header == "" {
			header = defaultSecretHeader
		}
		req.Header.Set(header, s.Secret)
		return nil
	case AuthModeHMAC:
		if s.Secret == "" {
			return errors.New("secret is required for HMAC authentication")
		}
		timestamp := time.Now().Unix()
		req.Header.Set(defaultSignatureHeader, signature(s.Secret, timestamp, req.Method, fullPath(req), body))
		req.Header.Set(defaultTimestampHeader, strconv.FormatInt(timestamp, 10))
		req.Header.Set(defaultNonceHeader, uuid.New().String())
		return nil
	default:
		return fmt.Errorf("unsupported authentication mode: %q", s.Mode)
	}
}

// VerifySignature checks an HMAC-signed request on the receiving side.
// The body is restored so later readers see it unchanged.
func VerifySignature(req *http.Request, secret string, maxAge time.Duration) error {
	if secret == "" {
		return errors.New("secret is required for HMAC verification")
	}
	if maxAge <= 0 {
		maxAge = defaultSignatureMaxAge
	}

	got := req.Header.Get(defaultSignatureHeader)
	rawTimestamp := req.Header.Get(defaultTimestampHeader)
	if got == "" || rawTimestamp == "" {
		return errors.New("missing authentication headers")
	}

	timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if time.Since(time.Unix(timestamp, 0)) > maxAge {
		return errors.New("request timestamp expired")
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	want := signature(secret, timestamp, req.Method, fullPath(req), body)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return errors.New("signature verification failed")
	}
	return nil
}

func signature(secret string, timestamp int64, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d%s%s", timestamp, method, path)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// fullPath includes the query so that it is covered by the signature.
// An empty path is signed as "/", which is what the receiver sees.
func fullPath(req *http.Request) string {
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	if req.URL.RawQuery != "" {
		return path + "?" + req.URL.RawQuery
	}
	return path
}
