package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxJWKSBytes bounds the size of a key set document
const maxJWKSBytes = 1 << 20

// KeySet is an immutable snapshot of the provider's signing keys
type KeySet struct {
	Keys      map[string]crypto.PublicKey // kid -> key
	FetchedAt time.Time
}

// Lookup returns the key for kid
func (ks *KeySet) Lookup(kid string) (crypto.PublicKey, bool) {
	k, ok := ks.Keys[kid]
	return k, ok
}

// All returns every key in the set
func (ks *KeySet) All() []crypto.PublicKey {
	all := make([]crypto.PublicKey, 0, len(ks.Keys))
	for _, k := range ks.Keys {
		all = append(all, k)
	}
	return all
}

// Fetcher retrieves the provider's published key set
type Fetcher interface {
	Fetch(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// HTTPFetcher downloads a JWKS document from a URL
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

func (f *HTTPFetcher) Fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read jwks response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch failed with status %d", resp.StatusCode)
	}

	set, err := ParseKeySet(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jwks response: %w", err)
	}
	return set, nil
}

// ParseKeySet decodes a JWKS document key by key. Entries go-jose cannot
// decode (unknown kty, points off the curve, truncated coordinates) are
// dropped rather than failing the whole set.
func ParseKeySet(data []byte) (*jose.JSONWebKeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(doc.Keys))}
	for i, raw := range doc.Keys {
		var key jose.JSONWebKey
		if err := key.UnmarshalJSON(raw); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping undecodable key")
			continue
		}
		set.Keys = append(set.Keys, key)
	}
	return set, nil
}

// Cache memoises the key set for the lifetime of the process.
// There is no expiry: a set is only replaced by an explicit Refresh.
type Cache struct {
	fetcher   Fetcher
	current   atomic.Pointer[KeySet]
	now       func() time.Time
	onRefresh func(*KeySet)
	logger    zerolog.Logger
}

type CacheOption func(*Cache)

// WithOnRefresh registers a hook called after every successful install
func WithOnRefresh(fn func(*KeySet)) CacheOption {
	return func(c *Cache) { c.onRefresh = fn }
}

// WithCacheLogger overrides the global logger
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the time source used for FetchedAt
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache; the first Get fetches
func NewCache(fetcher Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetcher: fetcher,
		now:     time.Now,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached key set, fetching it once on a cold cache
func (c *Cache) Get(ctx context.Context) (*KeySet, error) {
	if ks := c.current.Load(); ks != nil {
		return ks, nil
	}
	return c.Refresh(ctx)
}

// Refresh fetches the key set and installs it wholesale.
// When a concurrent refresh installs first, its set is returned instead.
func (c *Cache) Refresh(ctx context.Context) (*KeySet, error) {
	previous := c.current.Load()

	set, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("[keys Refresh] %w", err)
	}

	ks, err := c.export(set)
	if err != nil {
		return nil, fmt.Errorf("[keys Refresh] %w", err)
	}

	if !c.current.CompareAndSwap(previous, ks) {
		return c.current.Load(), nil
	}

	c.logger.Info().Int("keys", len(ks.Keys)).Msg("signing key set installed")
	if c.onRefresh != nil {
		c.onRefresh(ks)
	}
	return ks, nil
}

// export keeps the RSA and EC verification keys. Private entries are
// reduced to their public half.
func (c *Cache) export(set *jose.JSONWebKeySet) (*KeySet, error) {
	ks := &KeySet{
		Keys:      make(map[string]crypto.PublicKey, len(set.Keys)),
		FetchedAt: c.now().UTC(),
	}
	for i, key := range set.Keys {
		if key.Use == "enc" {
			continue
		}
		pub := key.Public()
		if !pub.Valid() {
			c.logger.Warn().Str("kid", key.KeyID).Msg("skipping unusable signing key")
			continue
		}
		switch pub.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
		default:
			c.logger.Warn().Str("kid", key.KeyID).Str("type", fmt.Sprintf("%T", pub.Key)).Msg("skipping unsupported signing key")
			continue
		}
		kid := key.KeyID
		if kid == "" {
			kid = fmt.Sprintf("#%d", i)
		}
		ks.Keys[kid] = pub.Key
	}
	if len(ks.Keys) == 0 {
		return nil, fmt.Errorf("key set contains no usable signing keys")
	}
	return ks, nil
}
