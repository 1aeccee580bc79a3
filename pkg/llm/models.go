package llm

import "fmt"

// modelTable maps every supported (provider, tier) pair to a model id.
var modelTable = map[Provider]map[PerformanceTier]string{
	ProviderOpenAI: {
		TierLow:    "gpt-4o-mini",
		TierMedium: "gpt-4o",
		TierHigh:   "gpt-4.1",
	},
	ProviderAnthropic: {
		TierLow:    "claude-3-5-haiku-latest",
		TierMedium: "claude-sonnet-4-0",
		TierHigh:   "claude-opus-4-0",
	},
}

// ModelFor resolves the model id for provider and tier. An unknown pair is
// a programming error and panics; config validation rejects bad values
// before any call is made.
func ModelFor(provider Provider, tier PerformanceTier) string {
	tiers, ok := modelTable[provider]
	if !ok {
		panic(fmt.Sprintf("llm: unknown provider %q", provider))
	}
	model, ok := tiers[tier]
	if !ok {
		panic(fmt.Sprintf("llm: unknown performance tier %q for provider %q", tier, provider))
	}
	return model
}

// IsSupported reports whether ModelFor would succeed.
func IsSupported(provider Provider, tier PerformanceTier) bool {
	_, ok := modelTable[provider][tier]
	return ok
}
