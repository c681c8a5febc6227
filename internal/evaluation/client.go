// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package evaluation is a small client for the Flipt evaluation API. It
// caches boolean evaluation results per namespace and lets callers drop a
// namespace's cached results when the namespace changes upstream.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ErrNamespaceNotConfigured is returned when no token is known for a namespace.
var ErrNamespaceNotConfigured = errors.New("namespace has no configured token")

// Config controls how the client reaches Flipt.
type Config struct {
	URL            string        `mapstructure:"url"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "http://localhost:8080",
		CacheTTL:       5 * time.Minute,
		RequestTimeout: 10 * time.Second,
	}
}

// TokenResolver returns the credential used for a namespace.
type TokenResolver interface {
	Token(namespace string) (string, bool)
}

// StatusError reports a non-2xx response from Flipt.
type StatusError struct {
	StatusCode int
	Namespace  string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("flipt returned status %d for namespace %q: %s", e.StatusCode, e.Namespace, e.Body)
}

// Flag is the subset of a Flipt flag the client reads.
type Flag struct {
	Key          string `json:"key"`
	Enabled      bool   `json:"enabled"`
	NamespaceKey string `json:"namespaceKey"`
}

type evalKey struct {
	Namespace string
	FlagKey   string
	EntityID  string
}

// Client talks to Flipt over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenResolver
	cache      *ttlcache.Cache[evalKey, bool]

	// generations counts purges per namespace. A load only caches its
	// result if no purge happened while it was in flight.
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewClient creates a client. Call Start to begin expiring cached results.
func NewClient(cfg Config, tokens TokenResolver) *Client {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultConfig().CacheTTL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		cache: ttlcache.New(
			ttlcache.WithTTL[evalKey, bool](ttl),
		),
		generations: map[string]uint64{},
	}
}

// Start runs the cache expiry loop until Stop is called.
func (c *Client) Start() {
	go c.cache.Start()
}

// Stop ends the cache expiry loop.
func (c *Client) Stop() {
	c.cache.Stop()
}

// Reload discards every cached evaluation for the namespace and then lists
// the namespace's flags with the given token, which both warms the Flipt
// side and surfaces credential problems to the caller.
func (c *Client) Reload(ctx context.Context, namespace, token string) error {
	dropped := c.purge(namespace)

	flags, err := c.ListFlags(ctx, namespace, token)
	if err != nil {
		return err
	}

	slog.Debug("Reloaded namespace",
		slog.String("namespace", namespace),
		slog.Int("flags", len(flags)),
		slog.Int("dropped_evaluations", dropped))
	return nil
}

func (c *Client) purge(namespace string) int {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.generations[namespace]++

	dropped := 0
	for _, key := range c.cache.Keys() {
		if key.Namespace == namespace {
			c.cache.Delete(key)
			dropped++
		}
	}
	return dropped
}

// ListFlags returns the flags defined in a namespace.
func (c *Client) ListFlags(ctx context.Context, namespace, token string) ([]Flag, error) {
	var (
		all       []Flag
		pageToken string
	)
	for {
		u := fmt.Sprintf("%s/api/v1/namespaces/%s/flags", c.baseURL, url.PathEscape(namespace))
		if pageToken != "" {
			u += "?pageToken=" + url.QueryEscape(pageToken)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build flag list request: %w", err)
		}

		var page struct {
			Flags         []Flag `json:"flags"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.do(req, namespace, token, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Flags...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// IsEnabled evaluates a boolean flag for an entity, serving repeated
// questions from the cache until the namespace is reloaded or the entry
// expires.
func (c *Client) IsEnabled(ctx context.Context, namespace, flagKey, entityID string) (bool, error) {
	var (
		loadErr  error
		uncached *bool
	)
	loader := ttlcache.LoaderFunc[evalKey, bool](
		func(cache *ttlcache.Cache[evalKey, bool], key evalKey) *ttlcache.Item[evalKey, bool] {
			gen := c.generation(key.Namespace)
			enabled, err := c.evaluate(ctx, key)
			if err != nil {
				loadErr = err
				return nil
			}

			c.genMu.Lock()
			defer c.genMu.Unlock()
			if c.generations[key.Namespace] != gen {
				uncached = &enabled
				return nil
			}
			return cache.Set(key, enabled, ttlcache.DefaultTTL)
		},
	)

	item := c.cache.Get(evalKey{Namespace: namespace, FlagKey: flagKey, EntityID: entityID}, ttlcache.WithLoader(loader))
	if item == nil {
		if uncached != nil {
			return *uncached, nil
		}
		if loadErr == nil {
			loadErr = errors.New("failed to evaluate flag")
		}
		return false, loadErr
	}
	return item.Value(), nil
}

func (c *Client) generation(namespace string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.generations[namespace]
}

func (c *Client) evaluate(ctx context.Context, key evalKey) (bool, error) {
	token, ok := c.tokens.Token(key.Namespace)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNamespaceNotConfigured, key.Namespace)
	}

	body, err := json.Marshal(map[string]any{
		"namespaceKey": key.Namespace,
		"flagKey":      key.FlagKey,
		"entityId":     key.EntityID,
		"context":      map[string]string{},
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode evaluation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate/v1/boolean", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build evaluation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.do(req, key.Namespace, token, &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

func (c *Client) do(req *http.Request, namespace, token string, out any) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("flipt request failed for namespace %s: %w", namespace, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Namespace:  namespace,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode flipt response for namespace %s: %w", namespace, err)
	}
	return nil
}
