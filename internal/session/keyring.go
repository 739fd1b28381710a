package session

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Keyring signs and verifies session tokens. Keys are kept by kid so secrets
// can rotate without invalidating live sessions.
type Keyring struct {
	Alg        string
	Keys       map[string][]byte // kid -> secret
	CurrentKID string
	Issuer     string
	SkewSec    int
	// MaxTTL caps Sign() and bounds accepted token lifetimes on Verify().
	MaxTTL time.Duration

	nowFunc func() time.Time
}

var (
	ErrEmptyToken     = errors.New("empty token")
	ErrMissingKID     = errors.New("missing kid")
	ErrUnknownKID     = errors.New("unknown kid")
	ErrIssuerMismatch = errors.New("issuer mismatch")
	ErrTTLTooLarge    = errors.New("token lifetime exceeds max")
	ErrExpMissing     = errors.New("exp missing")
	ErrNbfInFuture    = errors.New("nbf in the future")
)

// NewKeyring loads base64url secrets and prepares a signing/verification
// keyring. alg must be an HMAC algorithm ("HS256" recommended).
func NewKeyring(alg string, keys map[string]string, current, iss string, skew int, maxTTL time.Duration) (*Keyring, error) {
	switch alg {
	case "HS256", "HS384", "HS512":
	default:
		return nil, errors.New("unsupported alg (expected HS256/384/512)")
	}
	kr := &Keyring{
		Alg:     alg,
		Keys:    make(map[string][]byte, len(keys)),
		Issuer:  iss,
		SkewSec: skew,
		MaxTTL:  maxTTL,
		nowFunc: time.Now,
	}
	if kr.MaxTTL <= 0 {
		kr.MaxTTL = 30 * 24 * time.Hour
	}
	for kid, b64 := range keys {
		dec, err := base64.RawURLEncoding.DecodeString(b64)
		if err != nil {
			return nil, err
		}
		if len(dec) < 16 {
			return nil, errors.New("signing key too short; need >=16 bytes")
		}
		kr.Keys[kid] = dec
	}
	if _, ok := kr.Keys[current]; !ok {
		return nil, errors.New("current_kid not found in keys")
	}
	kr.CurrentKID = current
	if kr.Issuer == "" {
		kr.Issuer = "minigate"
	}
	return kr, nil
}

// Sign mints a session token for the user with bounded TTL. TTL above MaxTTL
// is clamped rather than rejected.
func (k *Keyring) Sign(uid, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if ttl > k.MaxTTL {
		ttl = k.MaxTTL
	}
	now := k.nowFunc()
	claims := Claims{
		UID:  uid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.Issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.GetSigningMethod(k.Alg), claims)
	t.Header["kid"] = k.CurrentKID
	secret := k.Keys[k.CurrentKID]
	if len(secret) == 0 {
		return "", errors.New("missing signing key for current_kid")
	}
	return t.SignedString(secret)
}

// Verify checks signature, issuer and time-based claims. fresh=false with a
// nil error means the token is valid but older than renewAfter, so the caller
// should re-issue it.
func (k *Keyring) Verify(tok string, renewAfter time.Duration) (claims *Claims, fresh bool, err error) {
	if tok == "" {
		return nil, false, ErrEmptyToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{k.Alg}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(k.nowFunc),
		jwt.WithLeeway(time.Duration(k.SkewSec)*time.Second),
	)

	var c Claims
	token, err := parser.ParseWithClaims(tok, &c, func(t *jwt.Token) (interface{}, error) {
		kidVal, ok := t.Header["kid"]
		if !ok {
			return nil, ErrMissingKID
		}
		kid, _ := kidVal.(string)
		secret, ok := k.Keys[kid]
		if !ok {
			return nil, ErrUnknownKID
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, false, err
	}

	if subtle.ConstantTimeCompare([]byte(c.Issuer), []byte(k.Issuer)) != 1 {
		return nil, false, ErrIssuerMismatch
	}

	now := k.nowFunc()
	skew := time.Duration(k.SkewSec) * time.Second

	if c.NotBefore != nil && now.Add(skew).Before(c.NotBefore.Time) {
		return nil, false, ErrNbfInFuture
	}
	if c.ExpiresAt == nil {
		return nil, false, ErrExpMissing
	}
	if c.IssuedAt != nil {
		lifetime := c.ExpiresAt.Time.Sub(c.IssuedAt.Time)
		if lifetime > k.MaxTTL+skew {
			return nil, false, ErrTTLTooLarge
		}
	}

	// Sliding renewal: valid but aged tokens get re-issued by the caller.
	if renewAfter > 0 && c.IssuedAt != nil && now.Sub(c.IssuedAt.Time) > renewAfter {
		return &c, false, nil
	}
	return &c, true, nil
}
