package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"appkernel/internal/ai"
	"appkernel/internal/catalog"
)

// scriptedClient replays a fixed error script, then succeeds.
type scriptedClient struct {
	provider string
	script   []error // nil entry means success
	calls    int
}

func (c *scriptedClient) Invoke(ctx context.Context, modelID string, msgs []ai.Message) (*ai.Result, error) {
	idx := c.calls
	c.calls++
	if idx < len(c.script) && c.script[idx] != nil {
		return nil, c.script[idx]
	}
	return &ai.Result{Content: "ok", TokensIn: 10, TokensOut: 5, ModelUsed: modelID, Duration: 10 * time.Millisecond}, nil
}

func (c *scriptedClient) Provider() string                      { return c.provider }
func (c *scriptedClient) Capabilities() []catalog.Capability    { return []catalog.Capability{catalog.CapText} }
func (c *scriptedClient) Health(ctx context.Context) error      { return nil }
func (c *scriptedClient) Usage() ai.ProviderUsage               { return ai.ProviderUsage{Provider: c.provider} }

func testEngine(t *testing.T, clients ...*scriptedClient) (*Engine, *catalog.Catalog, *[]time.Duration) {
	t.Helper()
	cat := catalog.New()
	reg := ai.NewRegistry()
	for i, c := range clients {
		reg.Register(c)
		cat.Register(catalog.ModelEndpoint{
			ID: c.provider + ":m", Provider: c.provider,
			InputPer1K: 0.001, OutputPer1K: float64(i+1) * 0.002,
			Speed: catalog.SpeedFast, Quality: 8,
			Capabilities: []catalog.Capability{catalog.CapText},
			ContextWindow: 128000, MaxOutput: 4096,
		})
	}

	eng := New(reg, cat, Options{MaxRetries: 3, BackoffBase: 100 * time.Millisecond, BackoffCap: time.Second})
	var slept []time.Duration
	eng.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return eng, cat, &slept
}

func TestExecute_TransientRetriesSameCandidate(t *testing.T) {
	transient := ai.NewError(ai.KindTransient, "p1", "p1:m", errors.New("503"))
	p1 := &scriptedClient{provider: "p1", script: []error{transient, transient, nil}}
	p2 := &scriptedClient{provider: "p2"}

	eng, _, slept := testEngine(t, p1, p2)

	res, err := eng.Execute(context.Background(), []string{"p1:m", "p2:m"}, nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.ModelUsed != "p1:m" {
		t.Errorf("ModelUsed = %s, want p1:m", res.ModelUsed)
	}
	if p1.calls != 3 {
		t.Errorf("p1 calls = %d, want 3", p1.calls)
	}
	if p2.calls != 0 {
		t.Errorf("p2 calls = %d, want 0", p2.calls)
	}

	// Two backoffs, each bounded by base·2^n + base.
	if len(*slept) != 2 {
		t.Fatalf("backoffs = %d, want 2", len(*slept))
	}
	base := 100 * time.Millisecond
	for n, d := range *slept {
		max := base<<uint(n) + base
		if d < base<<uint(n) || d > max {
			t.Errorf("backoff %d = %v, want in [%v, %v]", n, d, base<<uint(n), max)
		}
	}
}

func TestExecute_PermanentSkipsToNextCandidate(t *testing.T) {
	permanent := ai.NewError(ai.KindPermanent, "p1", "p1:m", errors.New("401"))
	p1 := &scriptedClient{provider: "p1", script: []error{permanent}}
	p2 := &scriptedClient{provider: "p2"}

	eng, _, _ := testEngine(t, p1, p2)

	res, err := eng.Execute(context.Background(), []string{"p1:m", "p2:m"}, nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.ModelUsed != "p2:m" {
		t.Errorf("ModelUsed = %s, want p2:m", res.ModelUsed)
	}
	if p1.calls != 1 {
		t.Errorf("p1 calls = %d, want 1 (no retry on permanent)", p1.calls)
	}
}

func TestExecute_BudgetSurfacesImmediately(t *testing.T) {
	budget := ai.NewError(ai.KindBudget, "p1", "p1:m", errors.New("daily cap"))
	p1 := &scriptedClient{provider: "p1", script: []error{budget}}
	p2 := &scriptedClient{provider: "p2"}

	eng, _, _ := testEngine(t, p1, p2)

	_, err := eng.Execute(context.Background(), []string{"p1:m", "p2:m"}, nil)
	if ai.KindOf(err) != ai.KindBudget {
		t.Fatalf("err kind = %s, want budget", ai.KindOf(err))
	}
	if p2.calls != 0 {
		t.Error("budget error must not advance the chain")
	}
}

func TestExecute_AllExhausted(t *testing.T) {
	transient := ai.NewError(ai.KindTransient, "p1", "p1:m", errors.New("503"))
	p1 := &scriptedClient{provider: "p1", script: []error{transient, transient, transient, transient, transient}}

	eng, _, _ := testEngine(t, p1)

	_, err := eng.Execute(context.Background(), []string{"p1:m"}, nil)
	if ai.KindOf(err) != ai.KindExhausted {
		t.Fatalf("err kind = %s, want exhausted", ai.KindOf(err))
	}
	// MaxRetries=3 means 4 attempts total.
	if p1.calls != 4 {
		t.Errorf("p1 calls = %d, want 4", p1.calls)
	}
}

func TestExecute_LastPermanentSurfaced(t *testing.T) {
	permanent := ai.NewError(ai.KindPermanent, "p2", "p2:m", errors.New("404"))
	transient := ai.NewError(ai.KindTransient, "p1", "p1:m", errors.New("500"))
	p1 := &scriptedClient{provider: "p1", script: []error{transient, transient, transient, transient}}
	p2 := &scriptedClient{provider: "p2", script: []error{permanent}}

	eng, _, _ := testEngine(t, p1, p2)

	_, err := eng.Execute(context.Background(), []string{"p1:m", "p2:m"}, nil)
	if ai.KindOf(err) != ai.KindPermanent {
		t.Fatalf("err kind = %s, want permanent", ai.KindOf(err))
	}
}

func TestExecute_RecordsOutcomes(t *testing.T) {
	p1 := &scriptedClient{provider: "p1"}
	eng, cat, _ := testEngine(t, p1)

	if _, err := eng.Execute(context.Background(), []string{"p1:m"}, nil); err != nil {
		t.Fatal(err)
	}

	outs := cat.Outcomes("p1")
	if len(outs) != 1 || !outs[0].Success {
		t.Errorf("outcomes = %+v, want one success", outs)
	}
	if outs[0].Tokens != 15 {
		t.Errorf("recorded tokens = %d, want 15", outs[0].Tokens)
	}
}

func TestExecute_EmptyChain(t *testing.T) {
	eng, _, _ := testEngine(t)
	_, err := eng.Execute(context.Background(), nil, nil)
	if ai.KindOf(err) != ai.KindExhausted {
		t.Errorf("empty chain kind = %s, want exhausted", ai.KindOf(err))
	}
}

func TestExecute_UnknownModelSkipped(t *testing.T) {
	p2 := &scriptedClient{provider: "p2"}
	eng, _, _ := testEngine(t, p2)

	res, err := eng.Execute(context.Background(), []string{"ghost:m", "p2:m"}, nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.ModelUsed != "p2:m" {
		t.Errorf("ModelUsed = %s", res.ModelUsed)
	}
}
