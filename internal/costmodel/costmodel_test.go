package costmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{
		CharsPerToken:   4,
		TokensPerCredit: 1000,
		ModelMultipliers: map[string]float64{
			"default":     1.0,
			"gpt-4o":      2.5,
			"gpt-4o-mini": 0.5,
		},
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens("", 4))
	assert.Equal(t, int64(1), EstimateTokens("hi", 4))
	assert.Equal(t, int64(1), EstimateTokens("abcd", 4))
	assert.Equal(t, int64(2), EstimateTokens("abcde", 4))
	assert.Equal(t, int64(25), EstimateTokens(string(make([]byte, 100)), 4))
}

func TestEstimatePromptTokens(t *testing.T) {
	history := []string{"abcd", "abcdefgh"}
	// 12 chars of history plus a 2 char message = 14 chars -> 4 tokens
	assert.Equal(t, int64(4), EstimatePromptTokens(history, "ok", 4))
	assert.Equal(t, int64(3), EstimatePromptTokens(history, "", 4))
	assert.Equal(t, int64(0), EstimatePromptTokens(nil, "", 4))
}

func TestEstimatePromptTokensSumsCharsAcrossTurns(t *testing.T) {
	// the per-token floor applies to the combined prompt, not per turn
	assert.Equal(t, int64(1), EstimatePromptTokens([]string{"a", "b", "c"}, "", 4))
	assert.Equal(t, int64(1), EstimatePromptTokens([]string{"ab"}, "cd", 4))
	assert.Equal(t, int64(2), EstimatePromptTokens([]string{"abc"}, "de", 4))
}

func TestMultiplierFallback(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 2.5, cfg.Multiplier("gpt-4o"))
	assert.Equal(t, 1.0, cfg.Multiplier("unknown-model"))

	// without a default entry the multiplier is 1.0
	cfg.ModelMultipliers = map[string]float64{"gpt-4o": 2.5}
	assert.Equal(t, 1.0, cfg.Multiplier("unknown-model"))

	cfg.ModelMultipliers = nil
	assert.Equal(t, 1.0, cfg.Multiplier("gpt-4o"))
}

func TestCostCredits(t *testing.T) {
	cfg := testConfig()

	// 2500 tokens at 1000 tokens per credit rounds up to 3 credits
	assert.Equal(t, int64(3), cfg.CostCredits(2500, "default"))
	assert.Equal(t, int64(1), cfg.CostCredits(1, "default"))
	assert.Equal(t, int64(1), cfg.CostCredits(1000, "default"))
	assert.Equal(t, int64(2), cfg.CostCredits(1001, "default"))
	assert.Equal(t, int64(0), cfg.CostCredits(0, "default"))
	assert.Equal(t, int64(0), cfg.CostCredits(-5, "default"))

	// multiplier scales the cost before rounding
	assert.Equal(t, int64(7), cfg.CostCredits(2500, "gpt-4o"))
	assert.Equal(t, int64(2), cfg.CostCredits(2500, "gpt-4o-mini"))
}
