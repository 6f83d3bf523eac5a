// Package binlookup resolves the leading digits of a card number into issuer
// metadata used for terminal selection: bank, brand, card type, loyalty
// family and country.
package binlookup

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/store"
)

// Resolver looks up issuer metadata for an 8-digit BIN.
type Resolver interface {
	Resolve(ctx context.Context, bin string) (store.BinInfo, error)
}

// HTTPResolver queries an external BIN service.
type HTTPResolver struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPResolver builds a resolver against the given endpoint.
func NewHTTPResolver(url, apiKey string) *HTTPResolver {
	return &HTTPResolver{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type binRequest struct {
	Bin string `json:"bin"`
}

type binResponse struct {
	Bank     string `json:"bank"`
	BankCode string `json:"bankCode"`
	Brand    string `json:"brand"`
	Type     string `json:"type"`
	Family   string `json:"family"`
	Country  string `json:"country"`
}

// Resolve posts the BIN to the lookup service.
func (r *HTTPResolver) Resolve(ctx context.Context, bin string) (store.BinInfo, error) {
	body, err := json.Marshal(binRequest{Bin: bin})
	if err != nil {
		return store.BinInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return store.BinInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return store.BinInfo{}, payerr.Wrap(payerr.KindNetwork, "bin lookup request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return store.BinInfo{}, payerr.Newf(payerr.KindNotFound, "bin %s not found", bin)
	}
	if resp.StatusCode != http.StatusOK {
		return store.BinInfo{}, payerr.Newf(payerr.KindNetwork, "bin lookup returned status %d", resp.StatusCode)
	}

	var out binResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return store.BinInfo{}, payerr.Wrap(payerr.KindNetwork, "bin lookup response decode failed", err)
	}
	return store.BinInfo{
		Bank:     out.Bank,
		BankCode: strings.ToLower(out.BankCode),
		Brand:    strings.ToLower(out.Brand),
		Type:     strings.ToLower(out.Type),
		Family:   strings.ToLower(out.Family),
		Country:  strings.ToLower(out.Country),
	}, nil
}

// CachedResolver caches successful lookups. BIN metadata is immutable for
// practical purposes, so entries never expire; the LRU bound keeps memory
// flat.
type CachedResolver struct {
	next  Resolver
	cache *lru.Cache[string, store.BinInfo]
}

// NewCachedResolver wraps next with an LRU cache of the given size.
func NewCachedResolver(next Resolver, size int) (*CachedResolver, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, store.BinInfo](size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{next: next, cache: cache}, nil
}

// Resolve serves from cache when possible. Failed lookups are not cached.
func (r *CachedResolver) Resolve(ctx context.Context, bin string) (store.BinInfo, error) {
	if info, ok := r.cache.Get(bin); ok {
		return info, nil
	}
	info, err := r.next.Resolve(ctx, bin)
	if err != nil {
		return store.BinInfo{}, err
	}
	r.cache.Add(bin, info)
	return info, nil
}

// StaticResolver serves a fixed BIN table. Used by tests and as a fallback
// when no lookup endpoint is configured.
type StaticResolver struct {
	table map[string]store.BinInfo
}

// NewStaticResolver builds a resolver over the given table.
func NewStaticResolver(table map[string]store.BinInfo) *StaticResolver {
	return &StaticResolver{table: table}
}

// Resolve returns the table entry for bin.
func (r *StaticResolver) Resolve(_ context.Context, bin string) (store.BinInfo, error) {
	if info, ok := r.table[bin]; ok {
		return info, nil
	}
	return store.BinInfo{}, payerr.Newf(payerr.KindNotFound, "bin %s not found", bin)
}

// NormalizeBIN extracts the 8-digit BIN from a card number or BIN fragment.
func NormalizeBIN(input string) (string, error) {
	var sb strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	digits := sb.String()
	if len(digits) < 6 {
		return "", payerr.New(payerr.KindValidation, "bin needs at least 6 digits")
	}
	if len(digits) > 8 {
		digits = digits[:8]
	}
	return digits, nil
}
