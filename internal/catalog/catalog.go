// Package catalog implements provider CRUD storage, a background
// per-provider model discovery/verification sync, and the reaction to
// an upstream reporting a model as no longer available.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/hermesgw/hermes/internal/cooldown"
	"github.com/hermesgw/hermes/internal/providers"
	"github.com/hermesgw/hermes/internal/store"
	"github.com/hermesgw/hermes/internal/ttlcache"
)

// verificationProbe is the fixed probe prompt used to confirm a
// discovered model actually serves chat completions.
const verificationProbe = "Quick check: in React, what does useEffect do? Reply 'ok' if you see this."

// interProbeSleep throttles model verification to avoid tripping an
// upstream's own rate limiting during a large catalog sync.
const interProbeSleep = 5 * time.Second

const providersCacheKey = "providers:all"

// Catalog owns provider persistence, the providers cache, and the
// background sync worker.
type Catalog struct {
	store    *store.Store
	cache    *ttlcache.Cache // short TTL, keeps provider listing cheap under request load
	cooldown *cooldown.Ledger
	log      *slog.Logger
	client   *http.Client

	mu      sync.Mutex
	syncing map[string]bool
}

// New creates a Catalog.
func New(st *store.Store, cache *ttlcache.Cache, ledger *cooldown.Ledger, log *slog.Logger) *Catalog {
	return &Catalog{
		store:    st,
		cache:    cache,
		cooldown: ledger,
		log:      log,
		client:   &http.Client{Timeout: providers.CatalogListTimeout},
		syncing:  make(map[string]bool),
	}
}

// List returns every stored provider record, served from cache when
// fresh.
func (c *Catalog) List(ctx context.Context) ([]providers.Record, error) {
	if v, ok := c.cache.Get(providersCacheKey); ok {
		return v.([]providers.Record), nil
	}
	recs, err := c.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(providersCacheKey, recs)
	return recs, nil
}

func (c *Catalog) invalidate() {
	c.cache.Delete(providersCacheKey)
}

// Create persists a new provider in pending status and launches a
// background sync.
func (c *Catalog) Create(ctx context.Context, name, baseURL, apiKey string, blacklist []string) (providers.Record, error) {
	r := providers.Record{
		ID:             uuid.New().String(),
		Name:           name,
		BaseURL:        strings.TrimSuffix(baseURL, "/"),
		APIKey:         apiKey,
		ModelBlacklist: blacklist,
		Status:         providers.StatusPending,
		CreatedAt:      time.Now(),
	}
	if err := c.store.InsertProvider(ctx, r); err != nil {
		return providers.Record{}, err
	}
	c.invalidate()
	go c.backgroundSync(context.Background(), r.ID)
	return r, nil
}

// Update resets a provider to pending (empty model list) and re-syncs.
func (c *Catalog) Update(ctx context.Context, id, baseURL, apiKey string, blacklist []string) error {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if err := c.store.UpdateProviderEndpoint(ctx, id, baseURL, apiKey, blacklist); err != nil {
		return err
	}
	c.invalidate()
	go c.backgroundSync(context.Background(), id)
	return nil
}

// Delete removes a provider record and invalidates the cache.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteProvider(ctx, id); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

// TriggerResync spawns a background sync for a provider. It is also
// invoked by the cooldown ledger once a provider crosses its
// repeated-penalty resync threshold.
func (c *Catalog) TriggerResync(ctx context.Context, id string) {
	go c.backgroundSync(context.Background(), id)
}

// ImportResult reports the outcome of a bulk import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// ImportEntry is one entry of the admin import envelope
// ({exportedAt, providers:[...]}).
type ImportEntry struct {
	Name           string   `json:"name"`
	BaseURL        string   `json:"baseUrl"`
	APIKey         string   `json:"apiKey"`
	ModelBlacklist []string `json:"modelBlacklist"`
}

// Import bulk-imports provider entries, deduping on (lower(name), baseUrl)
// against the existing set.
func (c *Catalog) Import(ctx context.Context, entries []ImportEntry) (ImportResult, error) {
	existing, err := c.store.ListProviders(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[dedupeKey(e.Name, e.BaseURL)] = struct{}{}
	}

	var result ImportResult
	for _, entry := range entries {
		if entry.Name == "" || entry.BaseURL == "" {
			result.Skipped++
			continue
		}
		key := dedupeKey(entry.Name, entry.BaseURL)
		if _, dup := seen[key]; dup {
			result.Skipped++
			continue
		}
		seen[key] = struct{}{}
		if _, err := c.Create(ctx, entry.Name, entry.BaseURL, entry.APIKey, entry.ModelBlacklist); err != nil {
			return result, err
		}
		result.Imported++
	}
	return result, nil
}

func dedupeKey(name, baseURL string) string {
	return strings.ToLower(name) + "::" + strings.TrimSuffix(baseURL, "/")
}

// ModelNotFound reacts to an upstream model_not_found signal: if the
// model is still in the stored list, remove it and trigger a fresh
// sync; otherwise it is a no-op.
func (c *Catalog) ModelNotFound(ctx context.Context, providerID, model string) {
	rec, err := c.store.GetProvider(ctx, providerID)
	if err != nil {
		return
	}
	found := false
	remaining := make([]string, 0, len(rec.Models))
	for _, m := range rec.Models {
		if m == model {
			found = true
			continue
		}
		remaining = append(remaining, m)
	}
	if !found {
		return
	}
	if err := c.store.UpdateProviderStatus(ctx, providerID, providers.StatusSyncing, remaining, false); err != nil {
		c.log.Error("model_not_found: status update failed", slog.String("provider", providerID), slog.String("error", err.Error()))
		return
	}
	c.invalidate()
	go c.backgroundSync(context.Background(), providerID)
}

// StartPeriodicSync launches an unconditional full-catalog resync loop
// on the given interval. It blocks until ctx is canceled.
func (c *Catalog) StartPeriodicSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recs, err := c.store.ListProviders(ctx)
			if err != nil {
				c.log.Error("periodic sync: list providers failed", slog.String("error", err.Error()))
				continue
			}
			for _, r := range recs {
				go c.backgroundSync(context.Background(), r.ID)
			}
		}
	}
}

// backgroundSync runs the full discover-then-verify cycle for one
// provider, guarded so only one sync runs per provider id at a time.
func (c *Catalog) backgroundSync(ctx context.Context, providerID string) {
	c.mu.Lock()
	if c.syncing[providerID] {
		c.mu.Unlock()
		return
	}
	c.syncing[providerID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.syncing, providerID)
		c.mu.Unlock()
	}()

	rec, err := c.store.GetProvider(ctx, providerID)
	if err != nil {
		c.log.Error("sync: provider not found", slog.String("provider", providerID), slog.String("error", err.Error()))
		return
	}

	if err := c.store.UpdateProviderStatus(ctx, providerID, providers.StatusSyncing, rec.Models, false); err != nil {
		c.log.Error("sync: set syncing failed", slog.String("provider", providerID), slog.String("error", err.Error()))
	}
	c.invalidate()

	candidates, err := c.listUpstreamModels(ctx, rec)
	if err != nil {
		c.store.UpdateProviderStatus(ctx, providerID, providers.StatusError, rec.Models, false)
		c.invalidate()
		c.logSync(ctx, rec, "ALL", "failure", err.Error())
		return
	}

	blacklist := make(map[string]struct{}, len(rec.ModelBlacklist))
	for _, m := range rec.ModelBlacklist {
		blacklist[m] = struct{}{}
	}

	deduped := dedupeStrings(candidates)
	valid := make([]string, 0, len(deduped))

	probed := 0
	for _, model := range deduped {
		if _, skip := blacklist[model]; skip {
			continue
		}
		if isNonChatModel(model) {
			continue
		}

		if probed > 0 {
			time.Sleep(interProbeSleep)
		}
		probed++

		if err := c.verifyModel(ctx, rec, model); err != nil {
			c.logSync(ctx, rec, model, "failure", truncate(err.Error(), 200))
			continue
		}
		valid = append(valid, model)
		c.store.UpdateProviderStatus(ctx, providerID, providers.StatusSyncing, valid, false)
		c.invalidate()
		c.cooldown.Delete(providerID, model)
		c.logSync(ctx, rec, model, "success", "")
	}

	c.store.UpdateProviderStatus(ctx, providerID, providers.StatusActive, valid, true)
	c.invalidate()
}

func isNonChatModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "embedding") || strings.Contains(lower, "embed")
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (c *Catalog) logSync(ctx context.Context, rec providers.Record, model, result, message string) {
	err := c.store.InsertLogBatch(ctx, nil, []store.SyncLogRow{{
		ID: uuid.New().String(), ProviderID: rec.ID, ProviderName: rec.Name,
		Model: model, Result: result, Message: message, CreatedAt: time.Now().UnixMilli(),
	}})
	if err != nil {
		c.log.Error("sync log write failed", slog.String("error", err.Error()))
	}
}

// listUpstreamModels lists a provider's models via the OpenAI-go SDK.
// This call has no byte-fidelity requirement, unlike the chat path,
// which stays on raw net/http for verbatim streaming relay.
func (c *Catalog) listUpstreamModels(ctx context.Context, rec providers.Record) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, providers.CatalogListTimeout)
	defer cancel()

	client := openaiSDK.NewClient(
		option.WithAPIKey(rec.APIKey),
		option.WithBaseURL(rec.BaseURL),
		option.WithHTTPClient(c.client),
	)

	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// verifyModel sends the one-token verification probe.
func (c *Catalog) verifyModel(ctx context.Context, rec providers.Record, model string) error {
	ctx, cancel := context.WithTimeout(ctx, providers.CatalogProbeTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": verificationProbe},
		},
		"max_tokens": 1,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+rec.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
