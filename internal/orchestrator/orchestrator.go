// Package orchestrator drives the retry loop for one chat completion
// request: ask the dispatcher for a candidate, forward it, and on
// failure retry against a fresh candidate until the retry cap is hit.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/cooldown"
	"github.com/hermesgw/hermes/internal/dispatcher"
	"github.com/hermesgw/hermes/internal/proxy"
)

const (
	DefaultMaxRetries = 3
	minRetries        = 1
)

// ErrNoCandidate is returned by Handle when the very first dispatch
// attempt finds no provider supporting the requested model.
var ErrNoCandidate = fmt.Errorf("no provider supports the requested model")

// Selector is the subset of Dispatcher the orchestrator needs.
type Selector interface {
	Select(ctx context.Context, requestedModel string, excluded map[string]struct{}) (dispatcher.Selection, bool, error)
}

// Forwarder is the subset of proxy.Executor the orchestrator needs.
type Forwarder interface {
	Execute(ctx context.Context, fctx *fasthttp.RequestCtx, sel dispatcher.Selection, body []byte, stream bool) (proxy.Outcome, error)
}

// Orchestrator ties the dispatcher and proxy executor into the
// per-request retry loop.
type Orchestrator struct {
	dispatcher Selector
	proxy      Forwarder
	cooldown   *cooldown.Ledger
	maxRetries int
	log        *slog.Logger
}

// New creates an Orchestrator. A maxRetries below 1 falls back to
// DefaultMaxRetries.
func New(d Selector, p Forwarder, ledger *cooldown.Ledger, maxRetries int, log *slog.Logger) *Orchestrator {
	if maxRetries < minRetries {
		maxRetries = DefaultMaxRetries
	}
	return &Orchestrator{dispatcher: d, proxy: p, cooldown: ledger, maxRetries: maxRetries, log: log}
}

// Handle runs the dispatch-forward-retry loop for one request body.
// On success the response has already been written to fctx and Handle
// returns the 2xx outcome with a nil error. On exhaustion it returns
// the last captured upstream error outcome, or, when every attempt
// failed at the transport layer, an error wrapping the last transport
// failure (ErrNoCandidate only if no provider ever supported the
// model), for the caller to translate into an HTTP response.
func (o *Orchestrator) Handle(ctx context.Context, fctx *fasthttp.RequestCtx, requestedModel string, body []byte, stream bool) (proxy.Outcome, error) {
	tried := make(map[string]struct{})
	var lastOutcome proxy.Outcome
	var haveOutcome bool
	var lastErr error

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		sel, ok, err := o.dispatcher.Select(ctx, requestedModel, tried)
		if err != nil {
			return proxy.Outcome{}, fmt.Errorf("select candidate: %w", err)
		}
		if !ok {
			if attempt == 0 {
				return proxy.Outcome{}, ErrNoCandidate
			}
			break
		}
		tried[sel.Provider.ID] = struct{}{}

		outcome, err := o.proxy.Execute(ctx, fctx, sel, body, stream)
		if err != nil {
			o.log.Warn("orchestrator: transport failure, retrying",
				slog.String("provider", sel.Provider.ID), slog.String("model", sel.ResolvedModel), slog.String("error", err.Error()))
			lastErr = err
			o.penalizeFailure(sel)
			continue
		}
		if outcome.StatusCode >= 200 && outcome.StatusCode < 300 {
			return outcome, nil
		}

		o.log.Warn("orchestrator: upstream error, retrying",
			slog.String("provider", sel.Provider.ID), slog.String("model", sel.ResolvedModel), slog.Int("status", outcome.StatusCode))
		lastOutcome = outcome
		haveOutcome = true
		o.penalizeFailure(sel)
	}

	if haveOutcome {
		return lastOutcome, nil
	}
	if lastErr != nil {
		return proxy.Outcome{}, fmt.Errorf("all candidate providers failed: %w", lastErr)
	}
	return proxy.Outcome{}, ErrNoCandidate
}

// penalizeFailure applies a cooldown penalty for every failed attempt
// within this request's retry sequence, including the first.
func (o *Orchestrator) penalizeFailure(sel dispatcher.Selection) {
	o.cooldown.Penalize(sel.Provider.ID, sel.ResolvedModel, 0, false)
}

// RequestedModel extracts the "model" field from a chat payload.
func RequestedModel(body []byte) (string, error) {
	var m struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return "", fmt.Errorf("decode request body: %w", err)
	}
	if m.Model == "" {
		return "", fmt.Errorf("request body missing required field \"model\"")
	}
	return m.Model, nil
}
