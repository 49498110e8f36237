// Package proxy forwards a resolved chat request to its upstream
// provider, relays streaming bytes verbatim, and fans the outcome out
// to the scorer, breaker, and event bus.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/dispatcher"
	"github.com/hermesgw/hermes/internal/eventbus"
	"github.com/hermesgw/hermes/internal/providers"
	"github.com/hermesgw/hermes/internal/routerscore"
)

// ModelNotFoundHandler reacts to an upstream reporting a model as no
// longer available.
type ModelNotFoundHandler interface {
	ModelNotFound(ctx context.Context, providerID, model string)
}

// Outcome is what the orchestrator needs to decide whether to retry.
// A zero StatusCode with a non-nil error from Execute means a
// connect/timeout failure at the transport layer. A non-2xx
// StatusCode with Body set means the upstream itself answered with an
// error that the orchestrator may surface verbatim if every candidate
// is exhausted.
type Outcome struct {
	StatusCode int
	Body       []byte
}

// Executor POSTs a forward-ready payload to a provider's endpoint.
type Executor struct {
	client   *http.Client
	scorer   *routerscore.Scorer
	breaker  *breaker.Breaker
	notFound ModelNotFoundHandler
	bus      *eventbus.Bus
	log      *slog.Logger
}

// New creates an Executor sharing one HTTP client (HTTP keep-alive
// pool) across all requests.
func New(scorer *routerscore.Scorer, br *breaker.Breaker, notFound ModelNotFoundHandler, bus *eventbus.Bus, log *slog.Logger) *Executor {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: providers.ProxyConnectTimeout,
		}).DialContext,
		MaxConnsPerHost:       200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       providers.ProxyPoolTimeout,
		ResponseHeaderTimeout: providers.ProxyReadTimeout,
		ForceAttemptHTTP2:     true,
	}
	return &Executor{
		client:   &http.Client{Transport: transport},
		scorer:   scorer,
		breaker:  br,
		notFound: notFound,
		bus:      bus,
		log:      log,
	}
}

// Execute forwards body (with its "model" field rewritten to the
// resolved variant) to sel.Provider. On a 2xx upstream response it
// writes the full response (streaming or not) to fctx itself and
// returns an Outcome with StatusCode 200. On a non-2xx response it
// returns the upstream's status and body without touching fctx, so the
// caller can retry against another candidate. A non-nil error means no
// upstream status was obtained (bad payload, connect/timeout) or a
// non-streaming success body could not be read.
func (e *Executor) Execute(ctx context.Context, fctx *fasthttp.RequestCtx, sel dispatcher.Selection, body []byte, stream bool) (Outcome, error) {
	forwardBody, err := rewriteModel(body, sel.ResolvedModel)
	if err != nil {
		return Outcome{}, fmt.Errorf("rewrite model field: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, providers.ProxyReadTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sel.Provider.BaseURL+"/chat/completions", bytes.NewReader(forwardBody))
	if err != nil {
		cancel()
		return Outcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sel.Provider.APIKey)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		cancel()
		e.signalFailure(ctx, sel, time.Since(start))
		e.bus.Broadcast("error", map[string]any{"provider": sel.Provider.Name, "model": sel.ResolvedModel, "message": err.Error()})
		return Outcome{}, err
	}

	if stream && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// The body is relayed after this handler returns; relayStream
		// closes it and releases the request context when done.
		e.relayStream(ctx, fctx, sel, resp, start, cancel)
		return Outcome{StatusCode: fasthttp.StatusOK}, nil
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		duration := time.Since(start)
		e.signalFailure(ctx, sel, duration)
		if resp.StatusCode == http.StatusNotFound || bytes.Contains(errBody, []byte("model_not_found")) {
			e.notFound.ModelNotFound(ctx, sel.Provider.ID, sel.ResolvedModel)
		}
		e.bus.Broadcast("error", map[string]any{"provider": sel.Provider.Name, "model": sel.ResolvedModel, "status": resp.StatusCode})
		return Outcome{StatusCode: resp.StatusCode, Body: errBody}, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		e.signalFailure(ctx, sel, duration)
		return Outcome{}, fmt.Errorf("read response body: %w", err)
	}

	e.scorer.Update(providers.ArmKey(sel.Provider.ID, sel.ResolvedModel), true, float64(duration.Milliseconds()))
	e.breaker.RecordSuccess(providers.CircuitKey(sel.Provider.ID))

	score := e.scorer.Score(providers.ArmKey(sel.Provider.ID, sel.ResolvedModel))
	fctx.Response.Header.Set("X-Hermes-Provider", sel.Provider.Name)
	fctx.Response.Header.Set("X-Hermes-Model", sel.ResolvedModel)
	fctx.Response.Header.Set("X-Hermes-Latency", strconv.FormatInt(duration.Milliseconds(), 10)+"ms")
	fctx.Response.Header.Set("X-Hermes-Score", strconv.FormatFloat(score, 'f', 4, 64))
	fctx.SetContentType("application/json")
	fctx.SetStatusCode(fasthttp.StatusOK)
	fctx.SetBody(respBody)

	e.bus.Broadcast("request", map[string]any{"provider": sel.Provider.Name, "model": sel.ResolvedModel, "latencyMs": duration.Milliseconds()})
	return Outcome{StatusCode: fasthttp.StatusOK}, nil
}

// relayStream copies the upstream SSE body to the client verbatim,
// signaling success on a clean end and failure (duration 0) on an
// interrupted stream. The upstream response is always closed.
func (e *Executor) relayStream(ctx context.Context, fctx *fasthttp.RequestCtx, sel dispatcher.Selection, resp *http.Response, start time.Time, cancel context.CancelFunc) {
	fctx.Response.Header.Set("X-Hermes-Provider", sel.Provider.Name)
	fctx.Response.Header.Set("X-Hermes-Model", sel.ResolvedModel)
	fctx.SetContentType("text/event-stream")
	fctx.Response.Header.Set("Cache-Control", "no-cache")
	fctx.Response.Header.Set("Connection", "keep-alive")
	fctx.SetStatusCode(fasthttp.StatusOK)

	fctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer resp.Body.Close()
		buf := make([]byte, 4096)
		clean := true
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					clean = false
					break
				}
				w.Flush() //nolint:errcheck
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				clean = false
				break
			}
			select {
			case <-ctx.Done():
				clean = false
			default:
			}
			if !clean {
				break
			}
		}

		if clean {
			e.scorer.Update(providers.ArmKey(sel.Provider.ID, sel.ResolvedModel), true, float64(time.Since(start).Milliseconds()))
			e.breaker.RecordSuccess(providers.CircuitKey(sel.Provider.ID))
			e.bus.Broadcast("request", map[string]any{"provider": sel.Provider.Name, "model": sel.ResolvedModel, "streaming": true})
		} else {
			e.scorer.Update(providers.ArmKey(sel.Provider.ID, sel.ResolvedModel), false, 0)
			e.breaker.RecordFailure(providers.CircuitKey(sel.Provider.ID))
			e.bus.Broadcast("error", map[string]any{"provider": sel.Provider.Name, "model": sel.ResolvedModel, "message": "stream interrupted"})
		}
	})
}

func (e *Executor) signalFailure(_ context.Context, sel dispatcher.Selection, duration time.Duration) {
	e.scorer.Update(providers.ArmKey(sel.Provider.ID, sel.ResolvedModel), false, float64(duration.Milliseconds()))
	e.breaker.RecordFailure(providers.CircuitKey(sel.Provider.ID))
}

// rewriteModel sets the JSON body's top-level "model" field to model,
// leaving every other field untouched.
func rewriteModel(body []byte, model string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	m["model"] = encoded
	return json.Marshal(m)
}

// IsStreaming reports the payload's "stream" field, defaulting to
// false when absent or malformed.
func IsStreaming(body []byte) bool {
	var m struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &m)
	return m.Stream
}
