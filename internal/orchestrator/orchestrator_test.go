package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/cooldown"
	"github.com/hermesgw/hermes/internal/dispatcher"
	"github.com/hermesgw/hermes/internal/proxy"
	"github.com/hermesgw/hermes/internal/providers"
)

type fakeSelector struct {
	selections []dispatcher.Selection
	calls      int
}

func (f *fakeSelector) Select(ctx context.Context, model string, excluded map[string]struct{}) (dispatcher.Selection, bool, error) {
	for _, sel := range f.selections {
		if _, skip := excluded[sel.Provider.ID]; skip {
			continue
		}
		f.calls++
		return sel, true, nil
	}
	return dispatcher.Selection{}, false, nil
}

type fakeForwarder struct {
	outcomes map[string]proxy.Outcome
	errs     map[string]error
}

func (f *fakeForwarder) Execute(ctx context.Context, fctx *fasthttp.RequestCtx, sel dispatcher.Selection, body []byte, stream bool) (proxy.Outcome, error) {
	if err, ok := f.errs[sel.Provider.ID]; ok {
		return proxy.Outcome{}, err
	}
	return f.outcomes[sel.Provider.ID], nil
}

func newTestLedger() *cooldown.Ledger {
	return cooldown.New(time.Minute, time.Hour, 3, time.Minute, nil)
}

func TestHandleReturnsOnFirstSuccess(t *testing.T) {
	sel := dispatcher.Selection{Provider: providers.Record{ID: "p1"}, ResolvedModel: "gpt-4o"}
	selector := &fakeSelector{selections: []dispatcher.Selection{sel}}
	forwarder := &fakeForwarder{outcomes: map[string]proxy.Outcome{"p1": {StatusCode: 200}}}

	o := New(selector, forwarder, newTestLedger(), 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out, err := o.Handle(context.Background(), &fasthttp.RequestCtx{}, "gpt-4o", []byte(`{"model":"gpt-4o"}`), false)
	if err != nil || out.StatusCode != 200 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if selector.calls != 1 {
		t.Fatalf("expected one selection attempt, got %d", selector.calls)
	}
}

func TestHandleRetriesAfterUpstreamError(t *testing.T) {
	selA := dispatcher.Selection{Provider: providers.Record{ID: "a"}, ResolvedModel: "claude-3-opus"}
	selB := dispatcher.Selection{Provider: providers.Record{ID: "b"}, ResolvedModel: "claude-3-opus"}
	selector := &fakeSelector{selections: []dispatcher.Selection{selA, selB}}
	forwarder := &fakeForwarder{outcomes: map[string]proxy.Outcome{
		"a": {StatusCode: 500, Body: []byte(`boom`)},
		"b": {StatusCode: 200},
	}}

	ledger := newTestLedger()
	o := New(selector, forwarder, ledger, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out, err := o.Handle(context.Background(), &fasthttp.RequestCtx{}, "claude-3-opus", []byte(`{"model":"claude-3-opus"}`), false)
	if err != nil || out.StatusCode != 200 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if selector.calls != 2 {
		t.Fatalf("expected two selection attempts, got %d", selector.calls)
	}
	if _, ok := ledger.Get("a", "claude-3-opus"); !ok {
		t.Fatal("expected provider a's single 500 to record a cooldown penalty")
	}
	if _, ok := ledger.Get("b", "claude-3-opus"); ok {
		t.Fatal("provider b succeeded and should carry no cooldown penalty")
	}
}

func TestHandleReturnsLastErrorWhenExhausted(t *testing.T) {
	selA := dispatcher.Selection{Provider: providers.Record{ID: "a"}, ResolvedModel: "m"}
	selector := &fakeSelector{selections: []dispatcher.Selection{selA}}
	forwarder := &fakeForwarder{outcomes: map[string]proxy.Outcome{"a": {StatusCode: 502, Body: []byte(`down`)}}}

	o := New(selector, forwarder, newTestLedger(), 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out, err := o.Handle(context.Background(), &fasthttp.RequestCtx{}, "m", []byte(`{"model":"m"}`), false)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.StatusCode != 502 {
		t.Fatalf("out.StatusCode = %d, want 502", out.StatusCode)
	}
}

func TestHandleReturnsErrNoCandidateOnFirstAttempt(t *testing.T) {
	selector := &fakeSelector{}
	forwarder := &fakeForwarder{outcomes: map[string]proxy.Outcome{}}

	o := New(selector, forwarder, newTestLedger(), 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := o.Handle(context.Background(), &fasthttp.RequestCtx{}, "unknown-model", []byte(`{"model":"unknown-model"}`), false)
	if err != ErrNoCandidate {
		t.Fatalf("err = %v, want ErrNoCandidate", err)
	}
}

func TestRequestedModelRequiresField(t *testing.T) {
	if _, err := RequestedModel([]byte(`{}`)); err == nil {
		t.Fatal("expected error for missing model field")
	}
	model, err := RequestedModel([]byte(`{"model":"gpt-4o"}`))
	if err != nil || model != "gpt-4o" {
		t.Fatalf("model=%q err=%v", model, err)
	}
}
