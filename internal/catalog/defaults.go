package catalog

// Default seeds the catalog with the shipped endpoint table. Prices are per
// 1K tokens and must be kept in sync with each provider's published pricing.
func Default() *Catalog {
	c := New()
	for _, ep := range defaultEndpoints() {
		c.Register(ep)
	}
	c.SetLimits("anthropic", 100, 400_000)
	c.SetLimits("openai", 80, 450_000)
	c.SetLimits("google", 120, 1_000_000)
	c.SetLimits("xai", 100, 500_000)
	c.SetLimits("local", 1000, 0)
	return c
}

func defaultEndpoints() []ModelEndpoint {
	return []ModelEndpoint{
		{
			ID:            "anthropic:claude-opus",
			Provider:      "anthropic",
			InputPer1K:    0.015,
			OutputPer1K:   0.075,
			Speed:         SpeedSlow,
			Quality:       10,
			Capabilities:  []Capability{CapText, CapCode, CapVision, CapFunctionCalling},
			ContextWindow: 200_000,
			MaxOutput:     32_000,
		},
		{
			ID:            "anthropic:claude-sonnet",
			Provider:      "anthropic",
			InputPer1K:    0.003,
			OutputPer1K:   0.015,
			Speed:         SpeedMedium,
			Quality:       9,
			Capabilities:  []Capability{CapText, CapCode, CapVision, CapFunctionCalling},
			ContextWindow: 200_000,
			MaxOutput:     64_000,
		},
		{
			ID:            "anthropic:claude-haiku",
			Provider:      "anthropic",
			InputPer1K:    0.00025,
			OutputPer1K:   0.00125,
			Speed:         SpeedVeryFast,
			Quality:       7,
			Capabilities:  []Capability{CapText, CapCode, CapVision},
			ContextWindow: 200_000,
			MaxOutput:     8_192,
		},
		{
			ID:            "openai:gpt-4o",
			Provider:      "openai",
			InputPer1K:    0.005,
			OutputPer1K:   0.015,
			Speed:         SpeedFast,
			Quality:       9,
			Capabilities:  []Capability{CapText, CapCode, CapVision, CapAudio, CapFunctionCalling},
			ContextWindow: 128_000,
			MaxOutput:     16_384,
		},
		{
			ID:            "openai:gpt-4o-mini",
			Provider:      "openai",
			InputPer1K:    0.00015,
			OutputPer1K:   0.0006,
			Speed:         SpeedVeryFast,
			Quality:       7,
			Capabilities:  []Capability{CapText, CapCode, CapVision, CapFunctionCalling},
			ContextWindow: 128_000,
			MaxOutput:     16_384,
		},
		{
			ID:            "openai:text-embedding",
			Provider:      "openai",
			InputPer1K:    0.00002,
			OutputPer1K:   0,
			Speed:         SpeedVeryFast,
			Quality:       8,
			Capabilities:  []Capability{CapEmbeddings},
			ContextWindow: 8_191,
			MaxOutput:     0,
		},
		{
			ID:            "google:gemini-pro",
			Provider:      "google",
			InputPer1K:    0.00125,
			OutputPer1K:   0.005,
			Speed:         SpeedMedium,
			Quality:       9,
			Capabilities:  []Capability{CapText, CapCode, CapVision, CapAudio, CapFunctionCalling},
			ContextWindow: 1_000_000,
			MaxOutput:     8_192,
		},
		{
			ID:            "google:gemini-flash",
			Provider:      "google",
			InputPer1K:    0.000075,
			OutputPer1K:   0.0003,
			Speed:         SpeedVeryFast,
			Quality:       7,
			Capabilities:  []Capability{CapText, CapCode, CapVision, CapAudio},
			ContextWindow: 1_000_000,
			MaxOutput:     8_192,
		},
		{
			ID:            "xai:grok",
			Provider:      "xai",
			InputPer1K:    0.0002,
			OutputPer1K:   0.0005,
			Speed:         SpeedFast,
			Quality:       8,
			Capabilities:  []Capability{CapText, CapCode, CapFunctionCalling},
			ContextWindow: 131_072,
			MaxOutput:     16_384,
		},
		{
			ID:            "local:ollama",
			Provider:      "local",
			InputPer1K:    0,
			OutputPer1K:   0,
			Speed:         SpeedMedium,
			Quality:       6,
			Capabilities:  []Capability{CapText, CapCode},
			ContextWindow: 32_768,
			MaxOutput:     8_192,
		},
	}
}
