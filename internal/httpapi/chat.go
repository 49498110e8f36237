package httpapi

import (
	"sort"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/modelkey"
	"github.com/hermesgw/hermes/internal/orchestrator"
	"github.com/hermesgw/hermes/internal/proxy"
	"github.com/hermesgw/hermes/pkg/apierr"
)

// handleChatCompletions resolves, dispatches, and (on success)
// streams or writes the upstream response; the body is already on
// fctx by the time Handle returns on a 2xx path.
func (s *Server) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	s.metrics.IncInFlight()
	defer s.metrics.DecInFlight()

	body := append([]byte(nil), ctx.PostBody()...)

	requestedModel, err := orchestrator.RequestedModel(body)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error(), apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	stream := proxy.IsStreaming(body)

	outcome, err := s.orchestrator.Handle(ctx, ctx, requestedModel, body, stream)
	defer func() {
		s.latency.record(float64(time.Since(start).Milliseconds()))
		s.metrics.ObserveHTTP("/v1/chat/completions", ctx.Response.StatusCode(), time.Since(start))
	}()

	if err == orchestrator.ErrNoCandidate {
		apierr.WriteModelNotFound(ctx, requestedModel)
		return
	}
	if err != nil {
		apierr.WriteUpstreamError(ctx, err.Error())
		return
	}
	if outcome.StatusCode >= 200 && outcome.StatusCode < 300 {
		// Executor already wrote the response (streaming or not).
		return
	}
	// Every candidate was exhausted; surface the last captured failure.
	apierr.WriteUpstreamError(ctx, "all candidate providers failed: "+string(outcome.Body))
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelsResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleModels lists the canonical model family representatives
// across every stored provider's catalog, sorted.
func (s *Server) handleModels(ctx *fasthttp.RequestCtx) {
	recs, err := s.catalog.List(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to list providers", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	var allRaw []string
	for _, r := range recs {
		allRaw = append(allRaw, r.Models...)
	}
	maps := modelkey.BuildAliasMaps(allRaw)

	ids := make([]string, 0, len(maps.CanonicalToVariants))
	for canonical := range maps.CanonicalToVariants {
		ids = append(ids, canonical)
	}
	sort.Strings(ids)

	resp := modelsResponse{Object: "list"}
	now := time.Now().Unix()
	for _, id := range ids {
		resp.Data = append(resp.Data, modelEntry{ID: id, Object: "model", Created: now, OwnedBy: "hermes-gateway"})
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}
