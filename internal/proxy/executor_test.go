package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/dispatcher"
	"github.com/hermesgw/hermes/internal/eventbus"
	"github.com/hermesgw/hermes/internal/providers"
	"github.com/hermesgw/hermes/internal/routerscore"
)

type fakeNotFound struct{ called bool }

func (f *fakeNotFound) ModelNotFound(ctx context.Context, providerID, model string) { f.called = true }

func newTestExecutor(nf ModelNotFoundHandler) *Executor {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(routerscore.New(), breaker.New(5, 30*time.Second, 2), nf, eventbus.New(), log)
}

func TestRewriteModelPreservesOtherFields(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	out, err := rewriteModel(body, "gpt-4o-2024-05-13")
	if err != nil {
		t.Fatalf("rewriteModel: %v", err)
	}
	if !IsStreaming(out) {
		t.Fatal("expected stream field to survive rewrite")
	}

	var decoded struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Model != "gpt-4o-2024-05-13" {
		t.Fatalf("model = %q, want %q", decoded.Model, "gpt-4o-2024-05-13")
	}
}

func TestIsStreamingDefaultsFalse(t *testing.T) {
	if IsStreaming([]byte(`{"model":"gpt-4o"}`)) {
		t.Fatal("expected default false")
	}
	if IsStreaming([]byte(`not json`)) {
		t.Fatal("expected malformed body to default false")
	}
}

func TestExecuteNonStreamingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	e := newTestExecutor(&fakeNotFound{})
	sel := dispatcher.Selection{
		Provider:      providers.Record{ID: "p1", Name: "acme", BaseURL: srv.URL, APIKey: "k"},
		ResolvedModel: "gpt-4o",
	}
	fctx := &fasthttp.RequestCtx{}
	out, err := e.Execute(context.Background(), fctx, sel, []byte(`{"model":"gpt-4o","messages":[]}`), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.StatusCode != fasthttp.StatusOK {
		t.Fatalf("out.StatusCode = %d, want 200", out.StatusCode)
	}
	if string(fctx.Response.Header.Peek("X-Hermes-Provider")) != "acme" {
		t.Fatal("expected X-Hermes-Provider header to be set")
	}
}

func TestExecuteModelNotFoundTriggersHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model_not_found"}`))
	}))
	defer srv.Close()

	nf := &fakeNotFound{}
	e := newTestExecutor(nf)
	sel := dispatcher.Selection{
		Provider:      providers.Record{ID: "p1", Name: "acme", BaseURL: srv.URL, APIKey: "k"},
		ResolvedModel: "gpt-4o",
	}
	fctx := &fasthttp.RequestCtx{}
	out, err := e.Execute(context.Background(), fctx, sel, []byte(`{"model":"gpt-4o","messages":[]}`), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.StatusCode != http.StatusNotFound {
		t.Fatalf("out.StatusCode = %d, want 404", out.StatusCode)
	}
	if !nf.called {
		t.Fatal("expected ModelNotFound to be invoked")
	}
}
