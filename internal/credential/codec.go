// Package credential generates and verifies the opaque secrets handed out by
// the authorization server: authorization codes, access and refresh tokens,
// client identifiers and client secrets.
//
// Raw values are never persisted. Records are stored under a keyed digest of
// the raw value and looked up by that digest only.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Kind identifies the type of secret. Its value is the visible prefix of the
// raw secret, which makes leaked credentials easy to spot by secret scanners.
type Kind string

const (
	KindAuthorizationCode Kind = "oac_"
	KindAccessToken       Kind = "oat_"
	KindRefreshToken      Kind = "ort_"
	KindClientSecret      Kind = "ocs_"
)

const (
	// SecretByteLength is the entropy of every generated secret.
	SecretByteLength = 32

	// displayPrefixLength covers the kind prefix plus eight random characters.
	displayPrefixLength = 12

	hashKeySalt = "oauthcore/credential/v1"
)

// ErrEmptyHashSecret is returned when a codec is built without a hash secret.
var ErrEmptyHashSecret = errors.New("credential: hash secret must not be empty")

// Secret is a freshly generated credential. Raw is shown to its owner exactly
// once; Hash is what gets stored.
type Secret struct {
	Raw    string
	Hash   string
	Prefix string
}

// Codec hashes and generates credentials with a server-side key.
type Codec struct {
	key []byte
}

// NewCodec derives the hashing key from secret. Changing the secret
// invalidates every stored code and token.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptyHashSecret
	}
	return &Codec{key: util.DeriveKey(secret, hashKeySalt, sha256.Size)}, nil
}

// NewSecret generates a random credential of the given kind with its storage
// hash and display prefix.
func (c *Codec) NewSecret(kind Kind) (*Secret, error) {
	random, err := util.CryptoRandomURLSafe(SecretByteLength)
	if err != nil {
		return nil, err
	}
	raw := string(kind) + random
	return &Secret{
		Raw:    raw,
		Hash:   c.Hash(raw),
		Prefix: raw[:displayPrefixLength],
	}, nil
}

// Hash returns the deterministic keyed digest used to look up raw.
func (c *Codec) Hash(raw string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether raw hashes to storedHash.
func (c *Codec) Matches(raw, storedHash string) bool {
	return ConstantTimeEquals(c.Hash(raw), storedHash)
}

// NewFamilyID returns an identifier for a new refresh-token family.
func NewFamilyID() string {
	return uuid.NewString()
}

// NewClientID returns a random public client identifier.
func NewClientID() (string, error) {
	id, err := util.CryptoRandomString(32)
	if err != nil {
		return "", err
	}
	return id, nil
}

// S256Challenge computes the PKCE S256 challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE reports whether verifier hashes to the stored S256 challenge.
func VerifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	return ConstantTimeEquals(S256Challenge(verifier), challenge)
}

// ConstantTimeEquals compares two secrets without leaking timing information.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashClientSecret returns the bcrypt hash stored for a client secret.
func HashClientSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyClientSecret checks a presented client secret against its bcrypt hash.
func VerifyClientSecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
