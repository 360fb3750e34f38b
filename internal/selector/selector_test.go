package selector

import (
	"testing"

	"appkernel/internal/catalog"
)

// threeModelCatalog builds the canonical A/B/C fixture: A high quality and
// expensive, B mid, C cheap and low quality. All healthy, all fast.
func threeModelCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()

	models := []catalog.ModelEndpoint{
		{ID: "test:a", Provider: "anthropic", InputPer1K: 0.010, OutputPer1K: 0.030, Speed: catalog.SpeedFast, Quality: 9, Capabilities: []catalog.Capability{catalog.CapText, catalog.CapCode}, ContextWindow: 200000, MaxOutput: 8192},
		{ID: "test:b", Provider: "openai", InputPer1K: 0.002, OutputPer1K: 0.004, Speed: catalog.SpeedFast, Quality: 8, Capabilities: []catalog.Capability{catalog.CapText, catalog.CapCode}, ContextWindow: 128000, MaxOutput: 8192},
		{ID: "test:c", Provider: "google", InputPer1K: 0.0002, OutputPer1K: 0.0004, Speed: catalog.SpeedFast, Quality: 6, Capabilities: []catalog.Capability{catalog.CapText}, ContextWindow: 128000, MaxOutput: 8192},
	}
	for _, m := range models {
		if !cat.Register(m) {
			t.Fatalf("failed to register %s", m.ID)
		}
	}
	return cat
}

func TestSelect_Cheapest(t *testing.T) {
	s := New(threeModelCatalog(t))

	// C is cheapest overall but fails the quality floor; B wins.
	id, ok := s.Select(Criteria{Strategy: Cheapest, MinQuality: 7})
	if !ok {
		t.Fatal("expected a real selection, got fallback")
	}
	if id != "test:b" {
		t.Errorf("Select(cheapest, min_quality=7) = %s, want test:b", id)
	}
}

func TestSelect_Balanced(t *testing.T) {
	s := New(threeModelCatalog(t))

	// B's price score dwarfs A's quality edge under the 0.4/0.3/0.2/0.1
	// weighting.
	id, ok := s.Select(Criteria{Strategy: Balanced, MinQuality: 7})
	if !ok {
		t.Fatal("expected a real selection, got fallback")
	}
	if id != "test:b" {
		t.Errorf("Select(balanced, min_quality=7) = %s, want test:b", id)
	}
}

func TestSelect_BestQuality(t *testing.T) {
	s := New(threeModelCatalog(t))
	id, _ := s.Select(Criteria{Strategy: BestQuality, MinQuality: 1})
	if id != "test:a" {
		t.Errorf("Select(best_quality) = %s, want test:a", id)
	}
}

func TestSelect_CostPerformance_FreeModelDominates(t *testing.T) {
	cat := threeModelCatalog(t)
	cat.Register(catalog.ModelEndpoint{
		ID: "local:free", Provider: "local", InputPer1K: 0, OutputPer1K: 0,
		Speed: catalog.SpeedMedium, Quality: 5,
		Capabilities: []catalog.Capability{catalog.CapText}, ContextWindow: 8192, MaxOutput: 4096,
	})
	s := New(cat)

	id, _ := s.Select(Criteria{Strategy: CostPerformance, MinQuality: 1})
	if id != "local:free" {
		t.Errorf("free model should dominate cost_performance, got %s", id)
	}
}

func TestSelect_MemberOfFilteredSet(t *testing.T) {
	s := New(threeModelCatalog(t))

	criteria := []Criteria{
		{Strategy: Cheapest, MinQuality: 1},
		{Strategy: Fastest, MinQuality: 6},
		{Strategy: BestQuality, MinQuality: 8},
		{Strategy: CostPerformance, MinQuality: 1, MaxPricePer1K: 0.01},
		{Strategy: Balanced, MinQuality: 6, RequiredCapabilities: []catalog.Capability{catalog.CapCode}},
	}
	valid := map[string]bool{"test:a": true, "test:b": true, "test:c": true}

	for _, c := range criteria {
		id, ok := s.Select(c)
		if ok && !valid[id] {
			t.Errorf("Select(%+v) returned %s, not a catalog member", c, id)
		}
	}
}

func TestSelect_EmptySetReturnsFallback(t *testing.T) {
	s := New(threeModelCatalog(t))

	// Unsatisfiable quality floor.
	id, ok := s.Select(Criteria{Strategy: BestQuality, MinQuality: 10})
	if ok {
		t.Fatal("expected fallback, got a real selection")
	}
	if id != fallbackIDs[BestQuality] {
		t.Errorf("fallback id = %s, want %s", id, fallbackIDs[BestQuality])
	}

	// Every strategy has a declared fallback.
	for _, st := range []Strategy{Cheapest, Fastest, BestQuality, CostPerformance, Balanced} {
		id, ok := s.Select(Criteria{Strategy: st, MinQuality: 11})
		if ok || id == "" {
			t.Errorf("strategy %s: fallback = (%q, %v)", st, id, ok)
		}
	}
}

func TestSelect_UnhealthyProviderFiltered(t *testing.T) {
	cat := threeModelCatalog(t)
	cat.SetStatus("openai", catalog.StatusDown)
	s := New(cat)

	id, ok := s.Select(Criteria{Strategy: Cheapest, MinQuality: 7})
	if !ok || id != "test:a" {
		t.Errorf("with openai down, Select = (%s, %v), want test:a", id, ok)
	}
}

func TestSelect_ProviderLists(t *testing.T) {
	s := New(threeModelCatalog(t))

	id, _ := s.Select(Criteria{Strategy: Cheapest, MinQuality: 1, PreferredProviders: []string{"anthropic"}})
	if id != "test:a" {
		t.Errorf("preferred anthropic = %s, want test:a", id)
	}

	id, _ = s.Select(Criteria{Strategy: Cheapest, MinQuality: 1, ExcludedProviders: []string{"google"}})
	if id != "test:b" {
		t.Errorf("excluded google = %s, want test:b", id)
	}
}

func TestSelect_CapabilityFilter(t *testing.T) {
	s := New(threeModelCatalog(t))

	// C lacks the code capability.
	id, ok := s.Select(Criteria{
		Strategy: Cheapest, MinQuality: 1,
		RequiredCapabilities: []catalog.Capability{catalog.CapCode},
	})
	if !ok || id != "test:b" {
		t.Errorf("cheapest code-capable = (%s, %v), want test:b", id, ok)
	}
}

func TestRecommendForTask(t *testing.T) {
	s := New(threeModelCatalog(t))

	id, ok := s.RecommendForTask(TaskCodeGeneration, 0)
	if !ok || id != "test:a" {
		t.Errorf("code_generation = (%s, %v), want test:a", id, ok)
	}

	id, ok = s.RecommendForTask(TaskBulkProcessing, 0)
	if !ok || id != "test:c" {
		t.Errorf("bulk_processing = (%s, %v), want test:c", id, ok)
	}

	// A price budget narrows code_generation away from A.
	id, ok = s.RecommendForTask(TaskCodeGeneration, 0.01)
	if !ok || id != "test:b" {
		t.Errorf("code_generation with budget = (%s, %v), want test:b", id, ok)
	}

	// Unknown tags use the chat profile and still return something.
	if id, _ := s.RecommendForTask("unknown_tag", 0); id == "" {
		t.Error("unknown tag should still select a model")
	}
}
