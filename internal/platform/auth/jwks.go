package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrUnknownKey = errors.New("auth: signing key not published by issuer")

// jwk is the subset of RFC 7517 fields needed for RS256 verification.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet caches the issuer's RSA signing keys. An unknown kid refetches the
// set, but at most once per minRefresh so forged kids cannot hammer the
// identity provider.
type keySet struct {
	url        string
	client     *http.Client
	keys       *expirable.LRU[string, *rsa.PublicKey]
	minRefresh time.Duration

	mu        sync.Mutex
	lastFetch time.Time
}

func newKeySet(url string, ttl time.Duration) *keySet {
	return &keySet{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		keys:       expirable.NewLRU[string, *rsa.PublicKey](32, nil, ttl),
		minRefresh: time.Minute,
	}
}

func (s *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := s.keys.Get(kid); ok {
		return k, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys.Get(kid); ok {
		return k, nil
	}
	if time.Since(s.lastFetch) < s.minRefresh {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	s.lastFetch = time.Now()
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	if k, ok := s.keys.Get(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("auth: jwks request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: jwks endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("auth: decode jwks: %w", err)
	}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") || k.Kid == "" {
			continue
		}
		if pub, err := k.rsa(); err == nil {
			s.keys.Add(k.Kid, pub)
		}
	}
	return nil
}

func (k jwk) rsa() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil || len(n) < 256 {
		return nil, errors.New("auth: modulus missing or under 2048 bits")
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil || len(e) == 0 || len(e) > 4 {
		return nil, errors.New("auth: bad exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
