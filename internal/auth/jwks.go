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
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownSigningKey is returned when a credential names a key id that is
// absent from the remote key set even after a refresh.
var ErrUnknownSigningKey = errors.New("unknown_signing_key")

type jwk struct {
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// KeySetCache holds the identity provider's published signing keys for the
// process lifetime, keyed by kid. A miss refreshes the whole set; concurrent
// misses coalesce into a single outstanding fetch so a key rotation cannot
// stampede the provider. Failed fetches are never cached.
type KeySetCache struct {
	url    string
	client *http.Client
	logger zerolog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time

	group singleflight.Group
}

// NewKeySetCache creates a KeySetCache for the given JWKS document URL.
func NewKeySetCache(url string, logger zerolog.Logger) *KeySetCache {
	return &KeySetCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "KeySetCache").Logger(),
		keys:   map[string]*rsa.PublicKey{},
	}
}

// GetOrFetch returns the public key for kid, refreshing the whole key set at
// most once if the kid is not cached. Returns ErrUnknownSigningKey if the kid
// is still absent after the refresh.
func (c *KeySetCache) GetOrFetch(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	// Coalesce concurrent misses into one remote fetch.
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("refresh key set: %w", err)
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSigningKey
	}
	return key, nil
}

// refresh fetches the remote key document and replaces the cache wholesale.
func (c *KeySetCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build key set request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch key set: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch key set: unexpected status %d", resp.StatusCode)
	}

	var doc jwks
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			c.logger.Warn().Str("kid", k.Kid).Str("kty", k.Kty).Msg("Skipping non-RSA key in key set")
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			c.logger.Warn().Err(err).Str("kid", k.Kid).Msg("Skipping unparsable key in key set")
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()

	c.logger.Debug().Int("keys", len(keys)).Msg("Key set refreshed")
	return nil
}

// parseRSAKey builds an *rsa.PublicKey from the modulus and exponent of a
// JWKS entry.
func parseRSAKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := decodeBase64URL(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := decodeBase64URL(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("zero exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// decodeBase64URL decodes base64url content whose padding is not guaranteed:
// the value is padded to a multiple of 4 before standard decoding.
func decodeBase64URL(s string) ([]byte, error) {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(s)
}
