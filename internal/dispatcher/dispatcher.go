// Package dispatcher implements the candidate-selection pipeline:
// resolve the requested model, filter eligible providers, check
// availability (cooldown + recent-sync trust + self-healing probe),
// score survivors, and return the best (provider, model) pair.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/cooldown"
	"github.com/hermesgw/hermes/internal/modelkey"
	"github.com/hermesgw/hermes/internal/providers"
	"github.com/hermesgw/hermes/internal/routerscore"
)

// recentSyncThreshold is the window within which a provider's sync is
// still "fresh enough to trust".
const recentSyncThreshold = 5 * time.Minute

// ProviderView is the read-only snapshot + resync-trigger capability the
// dispatcher needs from the catalog. Keeping this as a narrow interface,
// rather than a direct *catalog.Catalog dependency, avoids a cyclic
// import between the two packages.
type ProviderView interface {
	List(ctx context.Context) ([]providers.Record, error)
	TriggerResync(ctx context.Context, id string)
}

// Selection is the dispatcher's chosen (provider, resolved-model) pair.
type Selection struct {
	Provider      providers.Record
	ResolvedModel string
}

// Dispatcher wires the normalizer, catalog, cooldown ledger, circuit
// breaker, and router scorer into one selection pipeline.
type Dispatcher struct {
	catalog  ProviderView
	cooldown *cooldown.Ledger
	breaker  *breaker.Breaker
	scorer   *routerscore.Scorer
	log      *slog.Logger
	client   *http.Client
	rng      *rand.Rand
}

// New creates a Dispatcher.
func New(catalog ProviderView, ledger *cooldown.Ledger, br *breaker.Breaker, sc *routerscore.Scorer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		catalog:  catalog,
		cooldown: ledger,
		breaker:  br,
		scorer:   sc,
		log:      log,
		client:   &http.Client{Timeout: providers.CooldownProbeTimeout},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type candidate struct {
	provider providers.Record
	model    string
}

// Select runs the full candidate-resolution pipeline for one request.
func (d *Dispatcher) Select(ctx context.Context, requestedModel string, excluded map[string]struct{}) (Selection, bool, error) {
	recs, err := d.catalog.List(ctx)
	if err != nil {
		return Selection{}, false, fmt.Errorf("dispatch %s: list providers: %w", requestedModel, err)
	}

	allRaw := make([]string, 0)
	for _, r := range recs {
		allRaw = append(allRaw, r.Models...)
	}
	maps := modelkey.BuildAliasMaps(allRaw)
	canonical := maps.ResolveCanonical(requestedModel)
	variantSet := maps.CanonicalToVariants[canonical]

	if len(variantSet) == 0 {
		d.log.Info("dispatch: no provider supports model family", slog.String("model", requestedModel), slog.String("canonical", canonical))
		return Selection{}, false, nil
	}

	var candidates []candidate
	for _, r := range recs {
		if _, isExcluded := excluded[r.ID]; isExcluded {
			continue
		}
		if r.Status != providers.StatusActive && r.Status != providers.StatusSyncing {
			continue
		}
		var intersection []string
		for _, m := range r.Models {
			if _, ok := variantSet[m]; ok {
				intersection = append(intersection, m)
			}
		}
		if len(intersection) == 0 {
			continue
		}
		model := intersection[d.rng.Intn(len(intersection))]
		if !d.isAvailable(ctx, r, model) {
			d.log.Info("dispatch: candidate unavailable", slog.String("provider", r.ID), slog.String("model", model))
			continue
		}
		candidates = append(candidates, candidate{provider: r, model: model})
	}

	if len(candidates) == 0 {
		d.log.Info("dispatch: all candidates exhausted", slog.String("model", requestedModel))
		return Selection{}, false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		si := d.scorer.Score(providers.ArmKey(candidates[i].provider.ID, candidates[i].model))
		sj := d.scorer.Score(providers.ArmKey(candidates[j].provider.ID, candidates[j].model))
		return si > sj
	})

	best := candidates[0]
	return Selection{Provider: best.provider, ResolvedModel: best.model}, true, nil
}

// isAvailable runs the cooldown + recent-sync trust + self-healing
// probe check for a single candidate.
func (d *Dispatcher) isAvailable(ctx context.Context, provider providers.Record, model string) bool {
	if !d.breaker.Allow(providers.CircuitKey(provider.ID)) {
		return false
	}

	recentlySynced := !provider.LastSyncedAt.IsZero() && time.Since(provider.LastSyncedAt) < recentSyncThreshold
	entry, hasEntry := d.cooldown.Get(provider.ID, model)

	if !hasEntry && recentlySynced {
		return true
	}
	if hasEntry && !entry.Force && recentlySynced {
		d.cooldown.Delete(provider.ID, model)
		return true
	}
	if !hasEntry {
		return true
	}
	if entry.Until.After(time.Now()) {
		return false
	}

	// Cooldown has expired: send a self-healing probe.
	if d.probe(ctx, provider, model) {
		d.cooldown.Delete(provider.ID, model)
		return true
	}
	d.cooldown.DoubleBackoff(provider.ID, model)
	return false
}

// probe sends the one-token self-healing check.
func (d *Dispatcher) probe(ctx context.Context, provider providers.Record, model string) bool {
	ctx, cancel := context.WithTimeout(ctx, providers.CooldownProbeTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{
		"model":      model,
		"messages":   []map[string]string{{"role": "user", "content": "ping"}},
		"max_tokens": 1,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+provider.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
