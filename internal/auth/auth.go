package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrMissingToken = errors.New("missing bearer token")
var ErrInvalidToken = errors.New("invalid bearer token")
var ErrIssuerKey = errors.New("invalid issuer key")

type ctxKey struct{}

// Verifier issues and checks HS256 tokens whose subject is the caller's ledger address.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue signs a token for address valid for ttl.
func (v *Verifier) Issue(address string, ttl time.Duration) (string, error) {
	tok, _, err := v.issue(address, ttl)
	return tok, err
}

func (v *Verifier) issue(address string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(ttl)
	claims := jwt.StandardClaims{
		Subject:   address,
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	return tok, expires, err
}

// Issuer mints tokens on behalf of a trusted gateway that has already proven the caller
// controls the address, e.g. by checking a wallet signature. The gateway presents a shared
// key on every call. Deployments without a gateway mint tokens elsewhere with the same secret.
type Issuer struct {
	verifier *Verifier
	key      []byte
	ttl      time.Duration
}

func NewIssuer(v *Verifier, key string, ttl time.Duration) *Issuer {
	return &Issuer{verifier: v, key: []byte(key), ttl: ttl}
}

// Mint returns a token for address and its expiry if presented matches the issuer key.
func (i *Issuer) Mint(presented, address string) (string, time.Time, error) {
	if len(i.key) == 0 || subtle.ConstantTimeCompare([]byte(presented), i.key) != 1 {
		return "", time.Time{}, ErrIssuerKey
	}
	return i.verifier.issue(address, i.ttl)
}

// Parse returns the address carried by a valid token.
func (v *Verifier) Parse(raw string) (string, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid token and stores the caller's address in the
// request context. Browsers cannot set headers on websocket upgrades, so the token may also
// come as ?token=.
func (v *Verifier) Middleware(onFail func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				onFail(w, r, ErrMissingToken)
				return
			}
			addr, err := v.Parse(raw)
			if err != nil {
				onFail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func WithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, ctxKey{}, address)
}

// Caller returns the authenticated address, if any.
func Caller(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(ctxKey{}).(string)
	return addr, ok && addr != ""
}
